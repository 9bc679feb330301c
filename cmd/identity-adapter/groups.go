package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/giantswarm/identity-adapter/storage"
	"github.com/giantswarm/identity-adapter/storage/sqlite"
)

var groupDescription string

// openAdmin is replaced in tests.
var openAdmin = func() (storage.GroupAdmin, func(), error) {
	path, err := resolveDatabasePath()
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(sqlite.Config{Path: path, Migrate: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return store, func() { _ = store.Close() }, nil
}

// adminRunE adapts fn to a cobra RunE with an opened GroupAdmin.
func adminRunE(fn func(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		admin, closeFn, err := openAdmin()
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd.Context(), admin, cmd.OutOrStdout(), args)
	}
}

func newGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Edit the group and scope graph",
		Long: `Create groups and scopes, link groups to the groups they depend on and
grant scopes to groups or single users. Members of a group inherit the
scopes of every group it transitively depends on.`,
	}
	cmd.PersistentFlags().StringVar(&databasePath, "db", "", "sqlite database file (default DATABASE_PATH)")

	create := &cobra.Command{
		Use:   "create <slug> <name>",
		Short: "Create a group",
		Args:  cobra.ExactArgs(2),
		RunE:  adminRunE(createGroup),
	}
	create.Flags().StringVar(&groupDescription, "description", "", "group description")

	createScope := &cobra.Command{
		Use:   "create-scope <key>",
		Short: "Create a scope",
		Args:  cobra.ExactArgs(1),
		RunE:  adminRunE(createScope),
	}
	createScope.Flags().StringVar(&groupDescription, "description", "", "scope description")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all groups",
			Args:  cobra.NoArgs,
			RunE:  adminRunE(listGroups),
		},
		create,
		createScope,
		&cobra.Command{
			Use:   "add-member <user-id> <group-slug>",
			Short: "Add a user to a group",
			Args:  cobra.ExactArgs(2),
			RunE:  adminRunE(addMember),
		},
		&cobra.Command{
			Use:   "add-dependency <group-slug> <dependency-slug>",
			Short: "Make a group inherit another group's scopes",
			Args:  cobra.ExactArgs(2),
			RunE:  adminRunE(addDependency),
		},
		&cobra.Command{
			Use:   "grant <group-slug> <scope-key>",
			Short: "Grant a scope to a group",
			Args:  cobra.ExactArgs(2),
			RunE:  adminRunE(grantScope),
		},
		&cobra.Command{
			Use:   "grant-user <user-id> <scope-key>",
			Short: "Grant a scope to a single user",
			Args:  cobra.ExactArgs(2),
			RunE:  adminRunE(grantUserScope),
		},
	)
	return cmd
}

func listGroups(ctx context.Context, admin storage.GroupAdmin, out io.Writer, _ []string) error {
	groups, err := admin.ListGroups(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tDESCRIPTION")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", g.Slug, g.Name, g.Description)
	}
	return tw.Flush()
}

func createGroup(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error {
	g, err := admin.CreateGroup(ctx, args[0], args[1], groupDescription)
	if err != nil {
		return fmt.Errorf("failed to create group %s: %w", args[0], err)
	}
	fmt.Fprintf(out, "created group %s (%s)\n", g.Slug, g.ID)
	return nil
}

func createScope(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error {
	s, err := admin.CreateScope(ctx, args[0], groupDescription)
	if err != nil {
		return fmt.Errorf("failed to create scope %s: %w", args[0], err)
	}
	fmt.Fprintf(out, "created scope %s (%s)\n", s.Key, s.ID)
	return nil
}

func addMember(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error {
	g, err := groupBySlug(ctx, admin, args[1])
	if err != nil {
		return err
	}
	if err := admin.AddUserToGroup(ctx, args[0], g.ID); err != nil {
		return fmt.Errorf("failed to add user %s to %s: %w", args[0], g.Slug, err)
	}
	fmt.Fprintf(out, "added user %s to %s\n", args[0], g.Slug)
	return nil
}

func addDependency(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error {
	g, err := groupBySlug(ctx, admin, args[0])
	if err != nil {
		return err
	}
	dep, err := groupBySlug(ctx, admin, args[1])
	if err != nil {
		return err
	}
	if err := admin.AddGroupDependency(ctx, g.ID, dep.ID); err != nil {
		return fmt.Errorf("failed to make %s depend on %s: %w", g.Slug, dep.Slug, err)
	}
	fmt.Fprintf(out, "%s now depends on %s\n", g.Slug, dep.Slug)
	return nil
}

func grantScope(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error {
	g, err := groupBySlug(ctx, admin, args[0])
	if err != nil {
		return err
	}
	s, err := scopeByKey(ctx, admin, args[1])
	if err != nil {
		return err
	}
	if err := admin.GrantScope(ctx, g.ID, s.ID); err != nil {
		return fmt.Errorf("failed to grant %s to %s: %w", s.Key, g.Slug, err)
	}
	fmt.Fprintf(out, "granted %s to group %s\n", s.Key, g.Slug)
	return nil
}

func grantUserScope(ctx context.Context, admin storage.GroupAdmin, out io.Writer, args []string) error {
	s, err := scopeByKey(ctx, admin, args[1])
	if err != nil {
		return err
	}
	if err := admin.GrantUserScope(ctx, args[0], s.ID); err != nil {
		return fmt.Errorf("failed to grant %s to user %s: %w", s.Key, args[0], err)
	}
	fmt.Fprintf(out, "granted %s to user %s\n", s.Key, args[0])
	return nil
}

func groupBySlug(ctx context.Context, admin storage.GroupAdmin, slug string) (*storage.Group, error) {
	g, err := admin.GetGroupBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", slug, err)
	}
	return g, nil
}

func scopeByKey(ctx context.Context, admin storage.GroupAdmin, key string) (*storage.Scope, error) {
	s, err := admin.GetScopeByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("scope %s: %w", key, err)
	}
	return s, nil
}
