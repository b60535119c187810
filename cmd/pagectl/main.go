package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apiclient "github.com/pagestack/platform/pkg/api/client"
	"golang.org/x/term"
)

type cliConfig struct {
	AuthBaseURL  string `json:"auth_base_url"`
	TeamsBaseURL string `json:"teams_base_url"`
	AccessToken  string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = commandSignup(args)
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout(args)
	case "whoami":
		err = commandWhoami(args)
	case "team":
		err = commandTeam(args)
	case "unlock":
		err = commandUnlock(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	name := fs.String("name", "", "Display name")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	authBase := fs.String("auth", "", "Auth service base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := resolvePassword(*password)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	applyBase(&cfg, *authBase, "")

	client, err := apiclient.New(cfg.AuthBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Signup(ctx, *email, *name, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token.Value
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("account created: %s\n", resp.User.Email)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	authBase := fs.String("auth", "", "Auth service base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := resolvePassword(*password)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	applyBase(&cfg, *authBase, "")

	client, err := apiclient.New(cfg.AuthBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token.Value
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandLogout(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil
	}
	client, err := apiclient.New(cfg.AuthBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := client.Logout(ctx, token); err != nil {
		fmt.Fprintf(os.Stderr, "warning: remote logout failed: %v\n", err)
	}
	cfg.AccessToken = ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandWhoami(_ []string) error {
	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.AuthBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	user, err := client.Me(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%s\tverified=%t\n", user.ID, user.Email, user.EmailVerified)
	return nil
}

func commandTeam(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: pagectl team <list|create|members|add-member|remove-member|set-role> ...")
	}
	switch args[0] {
	case "list":
		return teamList(args[1:])
	case "create":
		return teamCreate(args[1:])
	case "members":
		return teamMembers(args[1:])
	case "add-member":
		return teamAddMember(args[1:])
	case "remove-member":
		return teamRemoveMember(args[1:])
	case "set-role":
		return teamSetRole(args[1:])
	default:
		return fmt.Errorf("unknown team subcommand: %s", args[0])
	}
}

func teamList(_ []string) error {
	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.TeamsBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	teams, err := client.ListTeams(ctx, token)
	if err != nil {
		return err
	}
	for _, t := range teams {
		fmt.Printf("%s\t%s\t%s\n", t.ID, t.Slug, t.Name)
	}
	return nil
}

func teamCreate(args []string) error {
	fs := flag.NewFlagSet("team create", flag.ExitOnError)
	name := fs.String("name", "", "Team name")
	fs.Parse(args)
	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}

	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.TeamsBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	team, err := client.CreateTeam(ctx, token, *name)
	if err != nil {
		return err
	}
	fmt.Printf("team created: %s (%s)\n", team.Name, team.ID)
	return nil
}

func teamMembers(args []string) error {
	fs := flag.NewFlagSet("team members", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" {
		return errors.New("--team is required")
	}

	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.TeamsBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	members, err := client.ListMembers(ctx, token, *teamID)
	if err != nil {
		return err
	}
	for _, m := range members {
		fmt.Printf("%s\t%s\t%s\n", m.UserID, m.Role, m.Email)
	}
	return nil
}

func teamAddMember(args []string) error {
	fs := flag.NewFlagSet("team add-member", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	userID := fs.String("user", "", "User identifier")
	role := fs.String("role", "member", "Role (owner|admin|member|viewer)")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" || strings.TrimSpace(*userID) == "" {
		return errors.New("--team and --user are required")
	}

	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.TeamsBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	member, err := client.AddMember(ctx, token, *teamID, *userID, *role)
	if err != nil {
		return err
	}
	fmt.Printf("member added: %s as %s\n", member.UserID, member.Role)
	return nil
}

func teamRemoveMember(args []string) error {
	fs := flag.NewFlagSet("team remove-member", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	userID := fs.String("user", "", "User identifier")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" || strings.TrimSpace(*userID) == "" {
		return errors.New("--team and --user are required")
	}

	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.TeamsBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.RemoveMember(ctx, token, *teamID, *userID); err != nil {
		return err
	}
	fmt.Println("member removed")
	return nil
}

func teamSetRole(args []string) error {
	fs := flag.NewFlagSet("team set-role", flag.ExitOnError)
	teamID := fs.String("team", "", "Team identifier")
	userID := fs.String("user", "", "User identifier")
	role := fs.String("role", "", "New role (owner|admin|member|viewer)")
	fs.Parse(args)
	if strings.TrimSpace(*teamID) == "" || strings.TrimSpace(*userID) == "" || strings.TrimSpace(*role) == "" {
		return errors.New("--team, --user and --role are required")
	}

	cfg, token, err := requireLogin()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.TeamsBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.UpdateMemberRole(ctx, token, *teamID, *userID, *role); err != nil {
		return err
	}
	fmt.Println("role updated")
	return nil
}

// commandUnlock clears a login lockout. Requires the operator admin token.
func commandUnlock(args []string) error {
	fs := flag.NewFlagSet("unlock", flag.ExitOnError)
	email := fs.String("email", "", "Email of the locked account")
	adminToken := fs.String("admin-token", "", "Admin token (defaults to ADMIN_TOKEN env)")
	authBase := fs.String("auth", "", "Auth service base URL")
	fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	token := strings.TrimSpace(*adminToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	}
	if token == "" {
		return errors.New("admin token required (--admin-token or ADMIN_TOKEN)")
	}

	cfg, _ := loadConfig()
	applyBase(&cfg, *authBase, "")

	client, err := apiclient.New(cfg.AuthBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.Unlock(ctx, token, *email); err != nil {
		return err
	}
	fmt.Printf("account unlocked: %s\n", *email)
	return nil
}

func resolvePassword(supplied string) (string, error) {
	secret := strings.TrimSpace(supplied)
	if secret != "" {
		return secret, nil
	}
	fmt.Print("Password: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func requireLogin() (cliConfig, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return cliConfig{}, "", errors.New("please login first using 'pagectl login'")
	}
	return cfg, token, nil
}

func applyBase(cfg *cliConfig, authBase, teamsBase string) {
	if strings.TrimSpace(authBase) != "" {
		cfg.AuthBaseURL = authBase
	} else if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = "http://localhost:4000"
	}
	if strings.TrimSpace(teamsBase) != "" {
		cfg.TeamsBaseURL = teamsBase
	} else if cfg.TeamsBaseURL == "" {
		cfg.TeamsBaseURL = "http://localhost:4100"
	}
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := cliConfig{}
			applyBase(&cfg, "", "")
			return cfg, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	applyBase(&cfg, "", "")
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "pagestack", "config.json"), nil
}

func printUsage() {
	fmt.Printf("pagectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	pagectl signup --email user@example.com [--name "User"] [--password secret] [--auth http://localhost:4000]
	pagectl login --email user@example.com [--password secret]
	pagectl logout
	pagectl whoami
	pagectl team list
	pagectl team create --name <name>
	pagectl team members --team <team-id>
	pagectl team add-member --team <team-id> --user <user-id> [--role member]
	pagectl team set-role --team <team-id> --user <user-id> --role <role>
	pagectl team remove-member --team <team-id> --user <user-id>
	pagectl unlock --email user@example.com [--admin-token token]
	pagectl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
