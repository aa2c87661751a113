package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	wordpress "github.com/wordpress-mobile/go-wordpress-api"
	"github.com/wordpress-mobile/go-wordpress-api/server"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	app := &cli.App{
		Name:    "wpcom",
		Usage:   "Log in to WordPress.com and call its REST API",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "host of the REST and OAuth APIs",
				EnvVars: []string{"WPCOM_HOST"},
				Value:   wordpress.DefaultHostURL,
			},
			&cli.StringFlag{
				Name:    "login-host",
				Usage:   "host of the wp-login.php endpoints",
				EnvVars: []string{"WPCOM_LOGIN_HOST"},
				Value:   wordpress.DefaultLoginHostURL,
			},
			&cli.StringFlag{
				Name:    "client-id",
				EnvVars: []string{"WPCOM_CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "client-secret",
				EnvVars: []string{"WPCOM_CLIENT_SECRET"},
			},
			&cli.StringFlag{
				Name:    "locale",
				Usage:   "BCP 47 locale sent with REST requests",
				EnvVars: []string{"WPCOM_LOCALE"},
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "skip TLS verification, for local test servers",
			},
			&cli.BoolFlag{
				Name:    "debug",
				EnvVars: []string{"WPCOM_DEBUG"},
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
			}

			return nil
		},
		Commands: []*cli.Command{
			loginCommand(),
			socialCommand(),
			meCommand(),
			mediaCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("Command failed")
	}
}

func newManager(c *cli.Context) (*wordpress.Manager, error) {
	opts := []wordpress.Option{
		wordpress.WithHostURL(c.String("host")),
		wordpress.WithLoginHostURL(c.String("login-host")),
		wordpress.WithOAuthClient(c.String("client-id"), c.String("client-secret")),
		wordpress.WithAppVersion("wpcom-cli/" + c.App.Version),
		wordpress.WithDebug(c.Bool("debug")),
	}

	if raw := c.String("locale"); raw != "" {
		locale, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", raw, err)
		}

		opts = append(opts, wordpress.WithLocale(locale))
	}

	if c.Bool("insecure") {
		opts = append(opts, wordpress.WithTransport(wordpress.InsecureTransport()))
	}

	return wordpress.New(opts...), nil
}

func newClient(c *cli.Context) (*wordpress.Manager, *wordpress.Client, error) {
	token := c.String("token")
	if token == "" {
		return nil, nil, errors.New("a bearer token is required, log in first")
	}

	m, err := newManager(c)
	if err != nil {
		return nil, nil, err
	}

	client := m.NewClient(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	client.AddDeauthHandler(func() {
		logrus.Warn("The bearer token was rejected, log in again")
	})

	return m, client, nil
}

var tokenFlag = &cli.StringFlag{
	Name:    "token",
	Usage:   "bearer token obtained by logging in",
	EnvVars: []string{"WPCOM_TOKEN"},
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Log in with a username and password",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", EnvVars: []string{"WPCOM_USERNAME"}, Required: true},
			&cli.StringFlag{Name: "password", EnvVars: []string{"WPCOM_PASSWORD"}, Required: true},
			&cli.StringFlag{Name: "otp", Usage: "one time password, if already known"},
		},
		Action: func(c *cli.Context) error {
			m, err := newManager(c)
			if err != nil {
				return err
			}
			defer m.Close()

			flow := m.NewLoginFlow()

			res := flow.SubmitCredentials(c.Context, c.String("username"), c.String("password"), c.String("otp"))

			// Without nonces to continue with, the one time password goes along with the credentials.
			if failure, ok := res.Err().Endpoint(); ok && failure.Kind == wordpress.FailureNeedsMultifactorCode {
				otp, err := prompt(bufio.NewReader(os.Stdin), "One time password: ")
				if err != nil {
					return err
				}

				res = flow.SubmitCredentials(c.Context, c.String("username"), c.String("password"), otp)
			}

			if _, err := res.Get(); err != nil {
				return err
			}

			return finishLogin(c.Context, flow)
		},
	}
}

func socialCommand() *cli.Command {
	return &cli.Command{
		Name:  "social",
		Usage: "Log in with a social provider ID token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service", Usage: "google or apple", Required: true},
			&cli.StringFlag{Name: "id-token", EnvVars: []string{"WPCOM_ID_TOKEN"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			m, err := newManager(c)
			if err != nil {
				return err
			}
			defer m.Close()

			flow := m.NewLoginFlow()

			if _, err := flow.SubmitSocial(c.Context, c.String("id-token"), c.String("service")).Get(); err != nil {
				return err
			}

			return finishLogin(c.Context, flow)
		},
	}
}

// finishLogin prompts for second factor codes until the flow is authenticated, then prints the token.
func finishLogin(ctx context.Context, flow *wordpress.LoginFlow) error {
	in := bufio.NewReader(os.Stdin)

	for {
		switch flow.State() {
		case wordpress.AuthStateAuthenticated:
			fmt.Println(flow.Token())
			return nil

		case wordpress.AuthStateNeedsSocialConnection:
			return fmt.Errorf("log in to the account of %v with its password to connect this identity", flow.Email())

		case wordpress.AuthStateNeedsMultiFactor:
			authType, err := promptAuthType(in, flow.NonceInfo())
			if err != nil {
				return err
			}

			if authType == wordpress.AuthTypeSMS {
				if _, err := flow.RequestSMSCode(ctx).Get(); err != nil {
					return err
				}
			}

			code, err := prompt(in, "Code: ")
			if err != nil {
				return err
			}

			// A rejected code with a fresh nonce leaves the flow waiting for another attempt.
			if _, err := flow.SubmitCode(ctx, authType, code).Get(); err != nil {
				logrus.WithError(err).Warn("Code rejected")
			}

		default:
			return fmt.Errorf("login ended in state %v", flow.State())
		}
	}
}

func promptAuthType(in *bufio.Reader, nonces *wordpress.NonceInfo) (wordpress.AuthType, error) {
	var choices []wordpress.AuthType

	for _, authType := range []wordpress.AuthType{wordpress.AuthTypeAuthenticator, wordpress.AuthTypeSMS, wordpress.AuthTypeBackup} {
		if nonces.Nonce(authType) != "" {
			choices = append(choices, authType)
		}
	}

	switch len(choices) {
	case 0:
		return "", errors.New("no code based second factor is available, security keys are not supported here")

	case 1:
		return choices[0], nil
	}

	names := make([]string, len(choices))

	for i, choice := range choices {
		names[i] = string(choice)
	}

	answer, err := prompt(in, "Second factor ("+strings.Join(names, ", ")+"): ")
	if err != nil {
		return "", err
	}

	for _, choice := range choices {
		if string(choice) == answer {
			return choice, nil
		}
	}

	return "", fmt.Errorf("unknown second factor %q", answer)
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Print(label)

	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func meCommand() *cli.Command {
	return &cli.Command{
		Name:  "me",
		Usage: "Show the logged in user",
		Flags: []cli.Flag{tokenFlag},
		Action: func(c *cli.Context) error {
			m, client, err := newClient(c)
			if err != nil {
				return err
			}
			defer m.Close()

			me, err := client.GetMe(c.Context)
			if err != nil {
				return err
			}

			fmt.Printf("%v (%v) <%v>, primary blog %v\n", me.Username, me.ID, me.Email, me.PrimaryBlog)

			return nil
		},
	}
}

func mediaCommand() *cli.Command {
	return &cli.Command{
		Name:  "media",
		Usage: "List or upload media of a site",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Flags: []cli.Flag{tokenFlag, &cli.Int64Flag{Name: "site", Required: true}},
				Action: func(c *cli.Context) error {
					m, client, err := newClient(c)
					if err != nil {
						return err
					}
					defer m.Close()

					media, err := client.GetMedia(c.Context, c.Int64("site"))
					if err != nil {
						return err
					}

					for _, item := range media {
						fmt.Printf("%v\t%v\t%v\t%v\n", item.ID, item.MIMEType, item.Size, item.File)
					}

					return nil
				},
			},
			{
				Name:      "upload",
				ArgsUsage: "FILE...",
				Flags:     []cli.Flag{tokenFlag, &cli.Int64Flag{Name: "site", Required: true}},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return errors.New("no files given")
					}

					m, client, err := newClient(c)
					if err != nil {
						return err
					}
					defer m.Close()

					files := make([]wordpress.MediaFile, 0, c.NArg())

					for _, path := range c.Args().Slice() {
						files = append(files, wordpress.MediaFile{Filename: filepath.Base(path), Path: path})
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()

					progress := wordpress.NewProgress(100)

					progress.OnChange(func(completed, total int64) {
						fmt.Fprintf(os.Stderr, "\r%3d%%", completed*100/total)
					})

					media, err := client.UploadMedia(ctx, c.Int64("site"), files, wordpress.WithProgress(progress))
					fmt.Fprintln(os.Stderr)

					if err != nil {
						return err
					}

					for _, item := range media {
						fmt.Printf("%v\t%v\n", item.ID, item.File)
					}

					return nil
				},
			},
		},
	}
}

// serveCommand runs a local fake WordPress.com with a single user, for trying out the other commands.
func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a local fake WordPress.com",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "username", Value: "demo"},
			&cli.StringFlag{Name: "password", Value: "password"},
			&cli.StringFlag{Name: "authenticator-code", Usage: "enable two step authentication with this code"},
		},
		Action: func(c *cli.Context) error {
			s := server.New(server.WithTLS(false), server.WithLogger(os.Stderr))
			defer s.Close()

			userID, err := s.CreateUser(c.String("username"), c.String("username")+"@example.com", c.String("password"))
			if err != nil {
				return err
			}

			if code := c.String("authenticator-code"); code != "" {
				if err := s.EnableTwoStep(userID, server.TwoStep{AuthenticatorCode: code}); err != nil {
					return err
				}
			}

			logrus.WithFields(logrus.Fields{
				"url":    s.GetHostURL(),
				"userID": userID,
			}).Info("Serving")

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			<-ctx.Done()

			return nil
		},
	}
}
