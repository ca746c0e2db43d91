package main

import (
	"testing"
	"time"

	"github.com/nicodishanthj/fieldq/internal/query"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "ask", "schema"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
	serve, _, _ := root.Find([]string{"serve"})
	if serve.Flags().Lookup("auto-start-mongo") == nil {
		t.Fatal("serve is missing --auto-start-mongo")
	}
}

func TestAskRequestMapsFlags(t *testing.T) {
	req := askRequest("how many farms", askFlags{user: " U1 ", role: "admin", timeoutMs: 1500})
	if req.Prompt != "how many farms" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	if req.Identity.ID != "U1" {
		t.Fatalf("identity = %q", req.Identity.ID)
	}
	if req.Identity.Role != query.RolePrivileged {
		t.Fatalf("role = %q", req.Identity.Role)
	}
	if req.Timeout != 1500*time.Millisecond {
		t.Fatalf("timeout = %s", req.Timeout)
	}

	standard := askRequest("q", askFlags{user: "U2", role: "farmer"})
	if standard.Identity.Role != query.RoleStandard || standard.Timeout != 0 {
		t.Fatalf("unexpected standard request: %+v", standard)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("FIELDQ_TEST_FLAG", "Yes")
	if !envBool("FIELDQ_TEST_FLAG") {
		t.Fatal("expected true")
	}
	t.Setenv("FIELDQ_TEST_FLAG", "0")
	if envBool("FIELDQ_TEST_FLAG") {
		t.Fatal("expected false")
	}
}
