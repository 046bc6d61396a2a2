// ABOUTME: parley-admin subcommands for users, tokens, conversations and transcript export
// ABOUTME: Output is tabular for humans; export writes Markdown or HTML

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/store"
	"github.com/2389/parley/internal/transcript"
	"github.com/2389/parley/internal/users"
)

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts",
	}

	var name, email, password string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a user account",
		Long:  `Create a user account. When --password is omitted a random one is generated and printed once.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			generated := false
			if password == "" {
				secret, err := config.GenerateSecret(8)
				if err != nil {
					return err
				}
				password = secret[:16]
				generated = true
			}

			ctx, cancel := a.ctx(cmd)
			defer cancel()

			user, token, err := a.users.Register(ctx, users.RegisterRequest{
				Name:     name,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return fmt.Errorf("creating user: %w", err)
			}

			green := color.New(color.FgGreen)
			cyan := color.New(color.FgCyan)
			green.Fprintf(a.out, "  ✓ Created user: %s\n", user.Name)
			fmt.Fprintln(a.out)
			cyan.Fprintln(a.out, "  User")
			cyan.Fprintln(a.out, "  ----")
			fmt.Fprintf(a.out, "  ID:       %s\n", user.ID)
			fmt.Fprintf(a.out, "  Email:    %s\n", user.Email)
			if generated {
				fmt.Fprintf(a.out, "  Password: %s\n", password)
			}
			fmt.Fprintf(a.out, "  Token:    %s\n", token)
			fmt.Fprintln(a.out)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.Flags().StringVar(&email, "email", "", "Email address")
	add.Flags().StringVar(&password, "password", "", "Password (generated when empty)")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List user accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()

			all, err := a.users.List(ctx)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			fmt.Fprintln(a.out)
			cyan.Fprintln(a.out, "  Users")
			cyan.Fprintln(a.out, "  -----")

			if len(all) == 0 {
				fmt.Fprintln(a.out, "  (no users)")
				fmt.Fprintln(a.out)
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tNAME\tEMAIL\tCREATED")
			fmt.Fprintln(w, "  --\t----\t-----\t-------")
			for _, u := range all {
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", u.ID, truncate(u.Name, 24), u.Email, u.CreatedAt.Local().Format("Jan 02 15:04"))
			}
			w.Flush()
			fmt.Fprintln(a.out)
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <email>",
		Short: "Issue an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()

			user, err := a.users.GetByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("looking up %s: %w", args[0], err)
			}

			if ttl <= 0 {
				ttl = a.cfg.Auth.TokenTTL
			}
			token, err := a.issuer.Generate(user.ID, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			// Token alone on stdout so it can be captured by scripts.
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: auth.token_ttl)")
	return cmd
}

func newConversationsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "conversations <email>",
		Short: "List a user's conversations, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()

			user, err := a.users.GetByEmail(ctx, args[0])
			if err != nil {
				return fmt.Errorf("looking up %s: %w", args[0], err)
			}

			convs, err := a.conversations.List(ctx, user.ID)
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			fmt.Fprintln(a.out)
			cyan.Fprintf(a.out, "  Conversations for %s\n", user.Name)
			cyan.Fprintln(a.out, "  ------------------")

			if len(convs) == 0 {
				fmt.Fprintln(a.out, "  (no conversations)")
				fmt.Fprintln(a.out)
				return nil
			}

			peers := lo.Map(convs, func(c *store.Conversation, _ int) string { return c.Peer(user.ID) })
			profiles, err := a.users.Profiles(ctx, peers)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  ID\tWITH\tLAST MESSAGE\tUNREAD\tUPDATED")
			fmt.Fprintln(w, "  --\t----\t------------\t------\t-------")
			for i, c := range convs {
				with := peers[i]
				if p, ok := profiles[with]; ok {
					with = p.Name
				}
				last, unread := "-", ""
				if c.LastMessage != nil {
					last = truncate(c.LastMessage.Text, 32)
					if !c.LastMessage.Read && c.LastMessage.SenderID != user.ID {
						unread = "yes"
					}
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", c.ID, truncate(with, 20), last, unread, c.UpdatedAt.Local().Format("Jan 02 15:04"))
			}
			w.Flush()
			fmt.Fprintln(a.out)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var asHTML bool
	var output string
	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation transcript as Markdown or HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd)
			defer cancel()

			conv, err := a.store.GetConversation(ctx, args[0])
			if err != nil {
				return fmt.Errorf("loading conversation %s: %w", args[0], err)
			}
			msgs, err := a.store.ListMessages(ctx, conv.ID)
			if err != nil {
				return fmt.Errorf("loading messages: %w", err)
			}
			profiles, err := a.users.Profiles(ctx, conv.Participants[:])
			if err != nil {
				return err
			}
			names := lo.MapValues(profiles, func(p users.Profile, _ string) string { return p.Name })

			out := transcript.Render(conv, msgs, names)
			if asHTML {
				if out, err = transcript.RenderHTML(out); err != nil {
					return err
				}
			}

			if output == "" || output == "-" {
				_, err = a.out.Write(out)
				return err
			}
			if err := os.WriteFile(output, out, 0600); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			color.New(color.FgGreen).Fprintf(a.out, "  ✓ Wrote %d messages to %s\n", len(msgs), output)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "Render HTML instead of Markdown")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}
