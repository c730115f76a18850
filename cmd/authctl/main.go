// authctl — консольный клиент сессии: вход, просмотр состояния,
// обновление, наблюдение и выход. Токены хранятся в зашифрованном файле.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/pribylovaa/go-auth-session/internal/autherr"
	"github.com/pribylovaa/go-auth-session/internal/client/authapi"
	"github.com/pribylovaa/go-auth-session/internal/client/session"
	"github.com/pribylovaa/go-auth-session/internal/client/tokenstore"
	"github.com/pribylovaa/go-auth-session/internal/config"
	"github.com/pribylovaa/go-auth-session/internal/models"
	"github.com/pribylovaa/go-auth-session/internal/pkg/log"
)

const usage = `usage: authctl [--config path] [--verbose] <command> [args]

commands:
  login [--email e]   sign in (password is read from the terminal)
  status              show current session state
  refresh             rotate the token pair now
  watch               print state changes until interrupted
  logout              end the session
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "authctl:", err)
		os.Exit(exitCode(err))
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("authctl", flag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var (
		configPath string
		verbose    bool
	)
	fs.StringVar(&configPath, "config", "", "path to config file")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command")
	}

	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = log.New(log.EnvLocal, os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.Into(ctx, logger)

	kv, err := tokenstore.OpenFileKV(cfg.StorePath, cfg.StoreKeyPath)
	if err != nil {
		return err
	}

	api := authapi.New(cfg.ServerURL, authapi.Options{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Timeout:      cfg.RequestTimeout,
	})

	c := session.New(api, tokenstore.New(kv, cfg.Scope), cfg, session.Options{Logger: logger})
	defer c.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]

	// Сессия восстанавливается и перед login: прежняя пара будет отозвана.
	if err := c.Init(ctx); err != nil {
		return err
	}

	switch cmd {
	case "login":
		return login(ctx, c, rest)
	case "status":
		printState(os.Stdout, c.Phase(), c.State())
		return nil
	case "refresh":
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		printState(os.Stdout, c.Phase(), c.State())
		return nil
	case "watch":
		return watch(ctx, c)
	case "logout":
		return c.Logout(ctx)
	}

	fs.Usage()

	return fmt.Errorf("unknown command %q", cmd)
}

func login(ctx context.Context, c *session.Client, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.StringP("email", "e", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)

	if *email == "" {
		fmt.Fprint(os.Stderr, "email: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read email: %w", err)
		}
		*email = strings.TrimSpace(line)
	}

	password, err := readPassword(in)
	if err != nil {
		return err
	}

	if err := c.Login(ctx, *email, password); err != nil {
		return err
	}

	printState(os.Stdout, c.Phase(), c.State())

	return nil
}

// readPassword читает пароль без эха, если stdin — терминал,
// иначе берёт первую строку (для скриптов).
func readPassword(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func watch(ctx context.Context, c *session.Client) error {
	c.OnStateChanged(func(st models.AuthState) {
		printState(os.Stdout, c.Phase(), st)
	})
	c.OnSessionEnded(func(err error) {
		fmt.Fprintln(os.Stdout, "session ended:", autherr.KindOf(err))
	})

	printState(os.Stdout, c.Phase(), c.State())
	<-ctx.Done()

	return nil
}

func printState(w io.Writer, phase session.Phase, st models.AuthState) {
	if !st.IsAuthenticated {
		fmt.Fprintf(w, "%s\n", phase)
		return
	}

	fmt.Fprintf(w, "%s user=%s name=%q role=%s expires=%s\n",
		phase, st.UserID, st.Username, st.Role, st.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
}

// exitCode: 2 — нужен повторный вход, 3 — сервер недоступен.
func exitCode(err error) int {
	switch {
	case autherr.IsTerminal(err):
		return 2
	case autherr.IsTransient(err):
		return 3
	}

	return 1
}
