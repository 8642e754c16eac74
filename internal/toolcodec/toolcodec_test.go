package toolcodec

import "testing"

func TestToAPIName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"read", "read"},
		{"read_file", "read_file"},
		{"mcp-server", "mcp--server"},
		{"a.b", "a-x00002E-b"},
		{"", ""},
		{"tool name", "tool-x000020-name"},
	}
	for _, tt := range tests {
		if got := ToAPIName(tt.in); got != tt.want {
			t.Errorf("ToAPIName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	names := []string{
		"read",
		"read_file",
		"mcp-server-tool",
		"a.b.c",
		"tool name with spaces",
		"emoji❤tool",
		"--already--escaped--",
		"trailing-",
		"-leading",
		"日本語",
		"mixed-UPPER_lower.09",
	}
	for _, name := range names {
		encoded := ToAPIName(name)
		if got := FromAPIName(encoded); got != name {
			t.Errorf("FromAPIName(ToAPIName(%q)) = %q, want identity (encoded %q)", name, got, encoded)
		}
	}
}

func TestFromAPIName_SalvagesBareEscape(t *testing.T) {
	// A model that mangles the leading '-' of "-x00002E-" still decodes.
	if got := FromAPIName("ax00002E-b"); got != "a.b" {
		t.Errorf("bare escape with trailing dash: got %q, want a.b", got)
	}
	if got := FromAPIName("ax00002Eb"); got != "a.b" {
		t.Errorf("bare escape without trailing dash: got %q, want a.b", got)
	}
}

func TestFromAPIName_LeavesHexLookalikesAlone(t *testing.T) {
	// x followed by six hex digits that decode to an alphanumeric rune must
	// not be rewritten: the encoder would never have escaped it.
	if got := FromAPIName("max000041"); got != "max000041" {
		t.Errorf("FromAPIName(max000041) = %q, want unchanged", got)
	}
	// Invalid rune values pass through untouched too.
	if got := FromAPIName("xFFFFFF"); got != "xFFFFFF" {
		t.Errorf("FromAPIName(xFFFFFF) = %q, want unchanged", got)
	}
}

func TestFromAPIName_MalformedEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"-xZZ", "-xZZ"},
		{"-", "-"},
		{"--", "-"},
		{"-x", "-x"},
	}
	for _, tt := range tests {
		if got := FromAPIName(tt.in); got != tt.want {
			t.Errorf("FromAPIName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
