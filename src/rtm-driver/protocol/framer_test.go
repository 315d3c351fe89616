package protocol

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFramerSplitsLines(t *testing.T) {
	testCases := []struct {
		description string
		chunks      []string
		expected    []string
		pending     int
	}{
		{
			description: "Single complete line.",
			chunks:      []string{"IDLE\n"},
			expected:    []string{"IDLE"},
		},
		{
			description: "Line split across chunks.",
			chunks:      []string{"TUNN", "EL,1,40", "000,1000\n"},
			expected:    []string{"TUNNEL,1,40000,1000"},
		},
		{
			description: "Carriage returns and blank lines are dropped.",
			chunks:      []string{"IDLE\r\n\r\n  \nDATA,DONE\r\n"},
			expected:    []string{"IDLE", "DATA,DONE"},
		},
		{
			description: "Trailing partial line is retained.",
			chunks:      []string{"IDLE\nADJ"},
			expected:    []string{"IDLE"},
			pending:     3,
		},
		{
			description: "Invalid bytes are replaced.",
			chunks:      []string{"ADJUST,\xff1\n"},
			expected:    []string{"ADJUST,\uFFFD1"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			framer := NewFramer(0)
			var lines []string
			for _, chunk := range testCase.chunks {
				out, err := framer.Feed([]byte(chunk))
				require.NoError(t, err)
				lines = append(lines, out...)
			}
			assert.Equal(t, testCase.expected, lines)
			assert.Equal(t, testCase.pending, framer.Pending())
		})
	}
}

func TestFramerSplitMultiByteCharacter(t *testing.T) {
	framer := NewFramer(0)
	raw := []byte("PARAMETER,unit,µA\n")
	split := strings.IndexByte(string(raw), 0xc2) + 1

	first, err := framer.Feed(raw[:split])
	require.NoError(t, err)
	assert.Empty(t, first)

	second, err := framer.Feed(raw[split:])
	require.NoError(t, err)
	assert.Equal(t, []string{"PARAMETER,unit,µA"}, second)
}

func TestFramerLineTooLong(t *testing.T) {
	framer := NewFramer(8)

	lines, err := framer.Feed([]byte("IDLE\n0123456789"))
	assert.Equal(t, []string{"IDLE"}, lines)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLineTooLong))

	var framingErr *FramingError
	require.True(t, errors.As(err, &framingErr))
	assert.Equal(t, 10, framingErr.Pending)
	assert.Equal(t, 0, framer.Pending())
}

var streamTokens = []string{"IDLE", "TUNNEL", ",", "1", "40000", " ", "\r", "\n", "µ", "\xff", "\xc2"}

// Feeding a stream in one call, in arbitrary chunks or byte by byte yields
// the same lines.
func TestFramerChunkingIndependence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tokens := rapid.SliceOf(rapid.SampledFrom(streamTokens)).Draw(t, "tokens")
		stream := []byte(strings.Join(tokens, ""))

		whole, err := NewFramer(0).Feed(stream)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cuts := rapid.SliceOf(rapid.IntRange(0, len(stream))).Draw(t, "cuts")
		chunked := feedChunked(t, stream, cuts)

		bytewise := NewFramer(0)
		var single []string
		for i := range stream {
			lines, err := bytewise.Feed(stream[i : i+1])
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			single = append(single, lines...)
		}

		if strings.Join(whole, "\n") != strings.Join(chunked, "\n") {
			t.Fatalf("chunked %q differs from whole %q", chunked, whole)
		}
		if strings.Join(whole, "\n") != strings.Join(single, "\n") {
			t.Fatalf("bytewise %q differs from whole %q", single, whole)
		}
	})
}

func feedChunked(t *rapid.T, stream []byte, cuts []int) []string {
	framer := NewFramer(0)
	var lines []string
	start := 0
	for _, cut := range append(sortedInts(cuts), len(stream)) {
		if cut < start {
			continue
		}
		out, err := framer.Feed(stream[start:cut])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines = append(lines, out...)
		start = cut
	}
	return lines
}

func sortedInts(values []int) []int {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	return sorted
}
