package server

import (
	"runtime"

	"github.com/denisbrodbeck/machineid"
)

// Get system information

type SystemInfo struct {
	MachineId string

	Os   string
	Arch string
}

// GetSystemInfo never fails: a machine id that can not be read is reported
// as "unknown" together with the error.
func GetSystemInfo() (*SystemInfo, error) {
	systemInfo := SystemInfo{
		Os:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		MachineId: "unknown",
	}

	machineId, err := machineid.ProtectedID("rtm-driver")
	if err != nil {
		return &systemInfo, err
	}
	systemInfo.MachineId = machineId

	return &systemInfo, nil
}
