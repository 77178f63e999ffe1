package main

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestRun_UnknownCommand(t *testing.T) {
	if err := run([]string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRun_RequiredFlags(t *testing.T) {
	t.Setenv("ARGUS_TOKEN", "")
	t.Setenv("ARGUS_JWT_SECRET", "")

	cases := [][]string{
		{"token", "--sub", "s1"},
		{"watch", "--exam", "e1"},
		{"agent", "--token", "t"},
		{"agent", "--token", "t", "--exam", "e1", "--face-threshold", "0"},
		{"agent", "--token", "t", "--exam", "e1", "--face-threshold", "1.5"},
	}
	for _, args := range cases {
		if err := run(args); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestParseFlags(t *testing.T) {
	fs := pflag.NewFlagSet("t", pflag.ContinueOnError)
	fs.String("x", "", "")

	if done, err := parseFlags(fs, []string{"--x", "1"}); done || err != nil {
		t.Fatalf("unexpected done=%v err=%v", done, err)
	}

	fs = pflag.NewFlagSet("t", pflag.ContinueOnError)
	if _, err := parseFlags(fs, []string{"extra"}); err == nil {
		t.Fatal("expected error for positional argument")
	}
}
