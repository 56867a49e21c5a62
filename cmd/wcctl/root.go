package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gopkg.in/yaml.v3"

	"github.com/and161185/weightcalc/internal/config"
	"github.com/and161185/weightcalc/internal/crypto"
	"github.com/and161185/weightcalc/internal/nutrition"
	"github.com/and161185/weightcalc/internal/repository/postgres"
	grpcserver "github.com/and161185/weightcalc/internal/server/grpc"
	"github.com/and161185/weightcalc/internal/service"
	"github.com/and161185/weightcalc/internal/token"
)

type rootOpts struct {
	secret string
	getenv func(string) string
}

// codec builds a token codec from --secret or the environment.
func (o *rootOpts) codec() (*token.Codec, error) {
	secret := o.secret
	if secret == "" {
		secret = o.getenv("WC_TOKEN_SECRET")
	}
	if secret == "" {
		secret = o.getenv("TOKEN_SECRET")
	}
	c, err := token.NewCodec(token.StaticSecret([]byte(secret)))
	if err != nil {
		return nil, fmt.Errorf("%w: pass --secret or set TOKEN_SECRET", err)
	}
	return c, nil
}

func newRootCmd(getenv func(string) string) *cobra.Command {
	opts := &rootOpts{getenv: getenv}
	root := &cobra.Command{
		Use:           "wcctl",
		Short:         "WeightCalc operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.secret, "secret", "", "token signing secret (default $TOKEN_SECRET)")

	root.AddCommand(
		newVersionCmd(),
		newMintCmd(opts),
		newVerifyCmd(opts),
		newPlanCmd(),
		newHashKeyCmd(),
		newHealthCmd(),
		newGrantsCmd(getenv),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wcctl %s (%s)\n", version, buildDate)
		},
	}
}

func newMintCmd(opts *rootOpts) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
		raw     bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.codec()
			if err != nil {
				return err
			}
			if !raw {
				subject = service.NormalizeEmail(subject)
			}
			tok, claim, err := c.Issue(subject, ttl)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"token":      tok,
					"subject":    claim.Subject,
					"issued_at":  time.Unix(claim.IssuedAt, 0).UTC(),
					"expires_at": time.Unix(claim.ExpiresAt, 0).UTC(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, usually the buyer e-mail")
	cmd.Flags().DurationVar(&ttl, "ttl", token.DefaultTTL, "token lifetime")
	cmd.Flags().BoolVar(&raw, "raw", false, "use the subject as given (no trim/lower-case)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print token and claim as JSON")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newVerifyCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token|->",
		Short: "Verify a token and print its claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.codec()
			if err != nil {
				return err
			}
			tok, err := argOrStdin(cmd, args[0])
			if err != nil {
				return err
			}
			claim, err := c.Verify(tok)
			if err != nil {
				if reason, ok := token.ReasonOf(err); ok {
					_ = printJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "reason": reason})
				}
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"valid":      true,
				"subject":    claim.Subject,
				"issued_at":  time.Unix(claim.IssuedAt, 0).UTC(),
				"expires_at": time.Unix(claim.ExpiresAt, 0).UTC(),
			})
		},
	}
}

func newPlanCmd() *cobra.Command {
	var premium bool
	cmd := &cobra.Command{
		Use:     "plan [key=value...]",
		Short:   "Compute a nutrition plan",
		Example: "  wcctl plan sex=female goal=bulk activity=high age=40 height=165 weight=60 targetWeight=66 --premium",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, a := range args {
				k, v, ok := strings.Cut(a, "=")
				if !ok || k == "" {
					return fmt.Errorf("bad argument %q, want key=value", a)
				}
				q.Set(k, v)
			}
			in := nutrition.ParseInput(q)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"input": in,
				"plan":  nutrition.Compute(in, premium),
			})
		},
	}
	cmd.Flags().BoolVar(&premium, "premium", false, "include premium sections")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key|->",
		Short: "Hash an operator key for the operator section of the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := argOrStdin(cmd, args[0])
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("empty key")
			}
			kh, err := crypto.NewKeyHash(key)
			if err != nil {
				return err
			}
			out := map[string]config.Operator{"operator": {KeySalt: kh.SaltHex(), KeyHash: kh.HashHex()}}
			b, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func newHealthCmd() *cobra.Command {
	var (
		addr     string
		useTLS   bool
		caPath   string
		skipCert bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the server's gRPC health service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds := insecure.NewCredentials()
			if useTLS {
				var err error
				if creds, err = loadTLS(caPath, skipCert); err != nil {
					return err
				}
			}
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus().String())
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", grpcserver.ServiceName, resp.GetStatus())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "ops listener address")
	cmd.Flags().BoolVar(&useTLS, "tls", false, "connect with TLS")
	cmd.Flags().StringVar(&caPath, "cacert", "", "CA certificate (PEM) for --tls")
	cmd.Flags().BoolVar(&skipCert, "insecure", false, "skip certificate verification (dev only)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func newGrantsCmd(getenv func(string) string) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "grants <email>",
		Short: "List grants issued to an e-mail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = getenv("WC_DATABASE_URL")
			}
			if dsn == "" {
				return errors.New("no database: pass --dsn or set WC_DATABASE_URL")
			}
			db, err := postgres.New(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			grants, err := postgres.NewGrantRepo(db).ListByEmail(cmd.Context(), service.NormalizeEmail(args[0]))
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(grants))
			for _, g := range grants {
				out = append(out, map[string]any{
					"id":         g.ID.String(),
					"open":       g.Open,
					"issued_at":  g.IssuedAt.UTC(),
					"expires_at": g.ExpiresAt.UTC(),
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (default $WC_DATABASE_URL)")
	return cmd
}

// ---- utils ----

// argOrStdin returns arg, or the first line of stdin when arg is "-".
func argOrStdin(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}
