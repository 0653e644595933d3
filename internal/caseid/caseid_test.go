package caseid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"REQ-360275", "REQ-360275"},
		{"req-360275", "REQ-360275"},
		{"  REQ360275 ", "REQ-360275"},
		{"IN-1234", "IN-1234"},
		{"ABCD-123456", "ABCD-123456"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := Parse(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, id.String())
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "hello", "R-123456", "ABCDE-123456", "REQ-123", "REQ-1234567", "REQ--123456", "/start"} {
		_, err := Parse(in)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("Parse(%q): expected ErrInvalid, got %v", in, err)
		}
		if Match(in) {
			t.Errorf("Match(%q) = true", in)
		}
	}
}

func TestMatches(t *testing.T) {
	id := MustParse("req-360275")
	require.True(t, id.Matches("Case REQ-360275 - printer"))
	require.True(t, id.Matches("/HEAT/case.asp?id=req360275"))
	require.False(t, id.Matches("REQ-360276"))
	require.False(t, ID{}.Matches("anything"))
}

func TestMatchesRejectsLongerNumbers(t *testing.T) {
	id := MustParse("REQ-1234")
	require.False(t, id.Matches("REQ-123456 other customer"))
	require.False(t, id.Matches("/case?id=REQ123456"))
	require.False(t, id.Matches("XREQ-1234"))
	require.True(t, id.Matches("REQ-1234 printer"))
	require.True(t, id.Matches("RecId=REQ1234&tab=2"))
	require.True(t, id.Matches("(req-1234)"))
}
