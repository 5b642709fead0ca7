package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	chatsync "github.com/chatsync-io/chatsync-go"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	chatsJSON bool

	// groups create
	groupsCreateMembers string

	// groups add-members
	groupsAddEmails string
)

func init() {
	chatsListCmd.Flags().BoolVar(&chatsJSON, "json", false, "Output raw JSON")
	groupsCreateCmd.Flags().StringVar(&groupsCreateMembers, "members", "", "Comma-separated member emails")
	groupsAddMembersCmd.Flags().StringVar(&groupsAddEmails, "emails", "", "Comma-separated emails to add")
	_ = groupsCreateCmd.MarkFlagRequired("members")
	_ = groupsAddMembersCmd.MarkFlagRequired("emails")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsCreateCmd)
	groupsCmd.AddCommand(groupsCreateCmd)
	groupsCmd.AddCommand(groupsAddMembersCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(groupsCmd)
}

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List and create conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := newClient()
		if err != nil {
			return err
		}
		dir := chatsync.NewDirectory(client.Chats, client.Auth(), logger)

		ctx, cancel := requestContext()
		defer cancel()
		convs, err := dir.ListConversations(ctx)
		if err != nil {
			return err
		}

		if chatsJSON {
			return printJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations yet.")
			return nil
		}
		id, _ := client.Auth().Current()
		printConversations(convs, id.User.ID)
		return nil
	},
}

var chatsCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Start a direct conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(ctx context.Context, client *chatsync.Client, dir *chatsync.Directory) error {
			conv, err := dir.CreateDirect(ctx, args[0])
			if err != nil {
				return errors.New(chatsync.UserMessage(err, "Failed to create chat"))
			}
			fmt.Printf("Created chat %s with %s\n", conv.ID, args[0])
			return nil
		})
	},
}

// ============================================================================
// groups
// ============================================================================

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Create groups and manage members",
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group with you as admin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(ctx context.Context, client *chatsync.Client, dir *chatsync.Directory) error {
			conv, err := dir.CreateGroup(ctx, args[0], chatsync.SplitEmails(groupsCreateMembers))
			if err != nil {
				return errors.New(chatsync.UserMessage(err, "Failed to create group chat"))
			}
			fmt.Printf("Created group %q (%s) with %d members\n", conv.Name, conv.ID, len(conv.Members))
			return nil
		})
	},
}

var groupsAddMembersCmd = &cobra.Command{
	Use:   "add-members <chat-id>",
	Short: "Add members to a group you administer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(ctx context.Context, client *chatsync.Client, dir *chatsync.Directory) error {
			if _, err := dir.ListConversations(ctx); err != nil {
				return err
			}
			conv, ok := dir.Find(args[0])
			if !ok {
				return fmt.Errorf("chat %s not found in your conversations", args[0])
			}
			id, _ := client.Auth().Current()
			if !conv.IsAdmin(id.User.ID) {
				fmt.Fprintln(os.Stderr, "Warning: you are not the admin of this group; the server will likely refuse.")
			}

			members := chatsync.NewMembershipManager(client.Chats, dir, logger)
			updated, err := members.AddMembers(ctx, conv, chatsync.SplitEmails(groupsAddEmails))
			if err != nil {
				return errors.New(chatsync.UserMessage(err, "Error adding members"))
			}
			fmt.Printf("Group %q now has %d members:\n", updated.Name, len(updated.Members))
			for _, m := range updated.Members {
				fmt.Printf("  %s\n", m.Email)
			}
			return nil
		})
	},
}

// ============================================================================
// Helpers
// ============================================================================

func withDirectory(fn func(ctx context.Context, client *chatsync.Client, dir *chatsync.Directory) error) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext()
	defer cancel()
	return fn(ctx, client, chatsync.NewDirectory(client.Chats, client.Auth(), logger))
}

func printConversations(convs []chatsync.Conversation, selfID string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Type", "Members", "Admin"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")

	for _, c := range convs {
		kind := "direct"
		if c.IsGroup {
			kind = "group"
		}
		admin := ""
		if c.IsAdmin(selfID) {
			admin = "you"
		} else if c.Admin != nil {
			admin = c.Admin.Email
		}
		table.Append([]string{
			c.ID,
			c.DisplayName(selfID),
			kind,
			strconv.Itoa(len(c.Members)) + " (" + strings.Join(lo.Map(c.Members, func(u chatsync.User, _ int) string { return u.Email }), ", ") + ")",
			admin,
		})
	}
	table.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
