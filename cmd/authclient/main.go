package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/logging"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/rs/zerolog/log"
)

const usage = `usage: authclient <command> [flags]

commands:
  login -email <email> -password <password>   password login
  sso                                         sign in with the identity provider
  users                                       list users
  status                                      show the stored session
  logout                                      end the session
  watch                                       keep the session renewed until interrupted`

var errUsage = errors.New(usage)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("authclient failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logging.Setup(c.GetLogLevel(), c.GetEnv())
	if len(args) == 0 {
		return errUsage
	}

	ctx := context.Background()
	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "login":
		return login(ctx, a, rest)
	case "sso":
		return ssoLogin(ctx, a)
	case "users":
		return listUsers(ctx, a)
	case "status":
		return status(ctx, a)
	case "logout":
		return a.auth.Logout(ctx)
	case "watch":
		displayAppname(c.GetAppName())
		return watch(ctx, a)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func login(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", os.Getenv("AUTHCLIENT_PASSWORD"), "account password (or AUTHCLIENT_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	session, err := a.auth.Login(ctx, auth.Credentials{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	printSession(session)
	return nil
}

func ssoLogin(ctx context.Context, a *app) error {
	session, err := a.auth.SSOLogin(ctx)
	if errors.Is(err, auth.ErrLoginCancelled) {
		fmt.Println("Login cancelled")
		return nil
	}
	if err != nil {
		return err
	}
	printSession(session)
	return nil
}

func listUsers(ctx context.Context, a *app) error {
	if redirect, ok := a.auth.Guard(ctx, "/users"); !ok {
		return fmt.Errorf("not logged in, go to %s", redirect)
	}
	list, err := a.users.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tUSERNAME\tEMAIL\tPHONE\tCOMPANY")
	for _, u := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Username, u.Email, u.Phone, u.Company.Name)
	}
	return w.Flush()
}

func status(ctx context.Context, a *app) error {
	session, err := a.auth.Session(ctx)
	if err != nil {
		return err
	}
	if !session.IsAuthenticated() {
		fmt.Println("Not logged in")
		return nil
	}
	printSession(session)
	if session.Expired(time.Now()) {
		fmt.Println("Access token expired; it is renewed on the next request")
	}
	return nil
}

func watch(ctx context.Context, a *app) error {
	if !a.auth.IsAuthenticated(ctx) {
		return errors.New("not logged in")
	}
	if err := a.auth.Resume(ctx); err != nil {
		return err
	}
	if wakeAt, ok := a.auth.Coordinator().WakeAt(); ok {
		log.Info().Time("wake_at", wakeAt).Msg("session watcher running")
	} else {
		log.Warn().Msg("no refresh scheduled, the session is renewed on the next 401")
	}
	waitForStopSignal()
	return nil
}

func printSession(session *sessions.Session) {
	if session.User != nil {
		fmt.Printf("Logged in as %s (%s)\n", session.User.Name, session.User.Username)
	} else {
		fmt.Println("Logged in")
	}
	if session.ExpiresAt != nil {
		fmt.Printf("Access token expires %s\n", time.Unix(*session.ExpiresAt, 0).Format(time.RFC1123))
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
