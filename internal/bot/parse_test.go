package bot

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantCmd  string
		wantArgs string
		wantOK   bool
	}{
		{name: "not a command", content: "just chatting"},
		{name: "prefix inside a word", content: "!hlxyz add foo"},
		{name: "bare prefix", content: "!hl", wantOK: true},
		{name: "help", content: "!hl help", wantCmd: "help", wantOK: true},
		{name: "command with args", content: "!hl add some phrase", wantCmd: "add", wantArgs: "some phrase", wantOK: true},
		{name: "command is lowercased", content: "!hl ADD Word", wantCmd: "add", wantArgs: "Word", wantOK: true},
		{name: "extra spaces", content: "!hl   add   word", wantCmd: "add", wantArgs: "word", wantOK: true},
		{name: "args keep casing", content: "!hl remove CoFFee", wantCmd: "remove", wantArgs: "CoFFee", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, ok := parseCommand("!hl", tt.content)
			if ok != tt.wantOK {
				t.Fatalf("parseCommand(%q) ok = %v, want %v", tt.content, ok, tt.wantOK)
			}
			if cmd != tt.wantCmd || args != tt.wantArgs {
				t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.content, cmd, args, tt.wantCmd, tt.wantArgs)
			}
		})
	}
}

func TestParseUserID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "<@123>", want: "123"},
		{in: "<@!123>", want: "123"},
		{in: " 123 ", want: "123"},
		{in: "<#123>", wantErr: true},
		{in: "bob", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseUserID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseUserID(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseUserID(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseUserID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseEntityID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "<@123>", want: "123"},
		{in: "<#456>", want: "456"},
		{in: "789", want: "789"},
		{in: "not-an-id", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseEntityID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseEntityID(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseEntityID(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseEntityID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSnowflake(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "123456789", want: true},
		{in: "0", want: true},
		{in: "", want: false},
		{in: "12a34", want: false},
		{in: "-123", want: false},
	}

	for _, tt := range tests {
		if got := isSnowflake(tt.in); got != tt.want {
			t.Errorf("isSnowflake(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
