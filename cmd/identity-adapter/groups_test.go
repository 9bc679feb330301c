package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/giantswarm/identity-adapter/internal/testutil"
	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/storage/memory"
)

// useMemoryAdmin points the groups commands at an in-memory store.
func useMemoryAdmin(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	original := openAdmin
	openAdmin = func() (storage.GroupAdmin, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { openAdmin = original })
	return store
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		groupDescription = ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestGroupsCommands(t *testing.T) {
	store := useMemoryAdmin(t)
	ctx := context.Background()

	user, err := store.UpsertUser(ctx, testutil.GenerateTestProfile())
	testutil.AssertNoError(t, err)

	steps := [][]string{
		{"groups", "create", "admins", "Admins", "--description", "Full access"},
		{"groups", "create", "viewers", "Viewers"},
		{"groups", "create-scope", "users:read"},
		{"groups", "grant", "viewers", "users:read"},
		{"groups", "add-dependency", "admins", "viewers"},
		{"groups", "add-member", user.ID, "admins"},
		{"groups", "create-scope", "users:read.email"},
		{"groups", "grant-user", user.ID, "users:read.email"},
	}
	for _, args := range steps {
		if out, err := runCLI(t, args...); err != nil {
			t.Fatalf("%v: error = %v, output = %s", args, err, out)
		}
	}

	out, err := runCLI(t, "groups", "list")
	testutil.AssertNoError(t, err)
	for _, want := range []string{"SLUG", "admins", "Full access", "viewers"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	direct, err := store.DirectGroups(ctx, user.ID)
	testutil.AssertNoError(t, err)
	if len(direct) != 1 || direct[0].Slug != "admins" {
		t.Errorf("direct groups = %v", direct)
	}
	scopes, err := store.UserScopes(ctx, user.ID)
	testutil.AssertNoError(t, err)
	if len(scopes) != 1 || scopes[0].Key != "users:read.email" {
		t.Errorf("user scopes = %v", scopes)
	}
}

func TestGroupsCommands_Errors(t *testing.T) {
	useMemoryAdmin(t)

	if _, err := runCLI(t, "groups", "grant", "missing", "users:read"); err == nil {
		t.Error("grant to unknown group should fail")
	}
	if _, err := runCLI(t, "groups", "create", "only-slug"); err == nil {
		t.Error("create without name should fail")
	}

	if _, err := runCLI(t, "groups", "create", "ops", "Ops"); err != nil {
		t.Fatalf("create error = %v", err)
	}
	if _, err := runCLI(t, "groups", "create", "ops", "Ops"); err == nil {
		t.Error("duplicate slug should fail")
	}
	if _, err := runCLI(t, "groups", "add-dependency", "ops", "ops"); err == nil {
		t.Error("self dependency should fail")
	}
}
