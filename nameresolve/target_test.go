package nameresolve

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetString(t *testing.T) {
	cases := []struct {
		name   string
		target Target
		want   string
	}{
		{"typical", Target{Host: "192.168.1.10", Port: 18020, Device: "dev1"}, "192.168.1.10;18020;dev1"},
		{"zero port", Target{Host: "h", Port: 0, Device: "d"}, "h;0;d"},
		{"empty device", Target{Host: "h", Port: 1, Device: ""}, "h;1;"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.target.String())
		})
	}
}

func TestParseTableRoundTrip(t *testing.T) {
	entries := []Target{
		{Host: "192.168.1.10", Port: 18020, Device: "dev1"},
		{Host: "10.0.0.5", Port: 18021, Device: "dev2"},
	}

	var b strings.Builder
	names := []string{"dev1", "dev2"}
	for i, e := range entries {
		b.WriteString(names[i])
		b.WriteString(" = ")
		b.WriteString(e.String())
		b.WriteString("\n")
	}

	table, err := ParseTable(strings.NewReader(b.String()))
	require.NoError(t, err)
	require.Len(t, table, len(entries))
	for i, name := range names {
		assert.Equal(t, entries[i], table[name])
	}
}
