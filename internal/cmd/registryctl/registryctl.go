// Package registryctl implements the registry command-line client.
package registryctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	entrypoint "github.com/louisbranch/vehicle-registry/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/vehicle-registry/internal/platform/grpc"
	"github.com/louisbranch/vehicle-registry/internal/platform/timeouts"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/auth"
	registryapi "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/registry"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/domain"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/service"
)

// Config holds registryctl defaults loaded from the environment.
type Config struct {
	Addr     string        `env:"VEHICLE_REGISTRY_ADDR"             envDefault:"localhost:8090"`
	Token    string        `env:"VEHICLE_REGISTRY_CALLER_TOKEN"`
	As       string        `env:"VEHICLE_REGISTRY_CALLER_ADDRESS"`
	TokenTTL time.Duration `env:"VEHICLE_REGISTRY_CALLER_TOKEN_TTL" envDefault:"15m"`
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Dialer opens a connection to the registry at addr.
type Dialer func(ctx context.Context, addr string) (grpc.ClientConnInterface, io.Closer, error)

// DialRegistry waits for the registry to report healthy before returning.
func DialRegistry(ctx context.Context, addr string) (grpc.ClientConnInterface, io.Closer, error) {
	conn, err := platformgrpc.DialWithHealth(ctx, nil, addr, timeouts.GRPCDial, nil, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to registry at %s: %w", addr, err)
	}
	return conn, conn, nil
}

// Run executes registryctl with args under the CLI telemetry setup.
func Run(ctx context.Context, cfg Config, args []string, out io.Writer) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCLI, func(ctx context.Context) error {
		root := NewRootCommand(cfg, DialRegistry)
		root.SetArgs(args)
		root.SetOut(out)
		return root.ExecuteContext(ctx)
	})
}

type cli struct {
	cfg  Config
	dial Dialer
	now  func() time.Time
}

// NewRootCommand builds the registryctl command tree.
func NewRootCommand(cfg Config, dial Dialer) *cobra.Command {
	c := &cli{cfg: cfg, dial: dial, now: time.Now}

	root := &cobra.Command{
		Use:           "registryctl",
		Short:         "Command-line client for the vehicle registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.cfg.Addr, "addr", c.cfg.Addr, "registry gRPC address")
	root.PersistentFlags().StringVar(&c.cfg.Token, "token", c.cfg.Token, "caller token to present on write commands")
	root.PersistentFlags().StringVar(&c.cfg.As, "as", c.cfg.As, "caller address; mints a token with VEHICLE_REGISTRY_CALLER_TOKEN_PRIVATE_KEY")
	root.PersistentFlags().DurationVar(&c.cfg.TokenTTL, "token-ttl", c.cfg.TokenTTL, "lifetime of tokens minted for --as")

	root.AddCommand(
		c.registerCommand(),
		c.transferCommand(),
		c.getCommand(),
		c.existsCommand(),
		c.listCommand(),
		c.historyCommand(),
		c.verifyCommand(),
		c.tokenCommand(),
		keygenCommand(),
	)
	return root
}

func (c *cli) registerCommand() *cobra.Command {
	var input struct {
		owner, model, manufacturer, documentRef string
	}
	cmd := &cobra.Command{
		Use:   "register <vehicle-id>",
		Short: "Register a vehicle (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, true, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				vehicle, err := client.RegisterVehicle(ctx, service.RegisterInput{
					ID:           args[0],
					Owner:        input.owner,
					Model:        input.model,
					Manufacturer: input.manufacturer,
					DocumentRef:  input.documentRef,
				}, opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), newVehicleView(vehicle))
			})
		},
	}
	cmd.Flags().StringVar(&input.owner, "owner", "", "address of the initial owner")
	cmd.Flags().StringVar(&input.model, "model", "", "vehicle model")
	cmd.Flags().StringVar(&input.manufacturer, "manufacturer", "", "vehicle manufacturer")
	cmd.Flags().StringVar(&input.documentRef, "document-ref", "", "optional reference to registration documents")
	for _, name := range []string{"owner", "model", "manufacturer"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (c *cli) transferCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <vehicle-id> <new-owner>",
		Short: "Transfer a vehicle to a new owner (current owner only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, true, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				vehicle, err := client.TransferOwnership(ctx, args[0], args[1], opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), newVehicleView(vehicle))
			})
		},
	}
}

func (c *cli) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <vehicle-id>",
		Short: "Show a vehicle record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, false, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				vehicle, err := client.GetVehicle(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), newVehicleView(vehicle))
			})
		},
	}
}

func (c *cli) existsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <vehicle-id>",
		Short: "Report whether a vehicle is registered",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, false, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				registered, err := client.IsRegistered(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), existsView{ID: domain.NormalizeVehicleID(args[0]), Registered: registered})
			})
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	var req registryapi.ListRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered vehicles ordered by id",
		Long: `List registered vehicles ordered by id.

Examples:
  registryctl list --page-size 20
  registryctl list --filter 'manufacturer = "Honda" AND model = "Civic"'
  registryctl list --page-token <next_page_token from a previous page>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withClient(cmd, false, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				page, err := client.ListVehicles(ctx, req, opts...)
				if err != nil {
					return err
				}
				view := listView{Vehicles: make([]vehicleView, 0, len(page.Vehicles)), NextPageToken: page.NextPageToken}
				for _, vehicle := range page.Vehicles {
					view.Vehicles = append(view.Vehicles, newVehicleView(vehicle))
				}
				return writeJSON(cmd.OutOrStdout(), view)
			})
		},
	}
	cmd.Flags().IntVar(&req.PageSize, "page-size", 0, "maximum vehicles per page (server default when zero)")
	cmd.Flags().StringVar(&req.PageToken, "page-token", "", "token from a previous page")
	cmd.Flags().StringVar(&req.Filter, "filter", "", "AIP-160 filter over owner, manufacturer and model")
	return cmd
}

func (c *cli) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <vehicle-id>",
		Short: "Show the ownership history of a vehicle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, false, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				events, err := client.ListOwnershipEvents(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				views := make([]eventView, 0, len(events))
				for _, event := range events {
					views = append(views, newEventView(event))
				}
				return writeJSON(cmd.OutOrStdout(), views)
			})
		},
	}
}

func (c *cli) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vehicle-id>",
		Short: "Verify the hash chain of a vehicle's ownership history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withClient(cmd, false, func(ctx context.Context, client *registryapi.Client, opts []grpc.CallOption) error {
				verification, err := client.VerifyOwnershipHistory(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), newVerificationView(verification)); err != nil {
					return err
				}
				if !verification.Valid {
					return fmt.Errorf("ownership history of %s failed verification at sequence %d", args[0], verification.BrokenSeq)
				}
				return nil
			})
		},
	}
}

func (c *cli) tokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token <address>",
		Short: "Mint a caller token for address",
		Long: `Mint a caller token for address using VEHICLE_REGISTRY_CALLER_TOKEN_PRIVATE_KEY.

The token lifetime comes from --token-ttl. Export the output as
VEHICLE_REGISTRY_CALLER_TOKEN to reuse it across commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := c.mint(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a caller token key pair as env exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeKeyPair(cmd.OutOrStdout())
		},
	}
}

func writeKeyPair(out io.Writer) error {
	publicKey, privateKey, err := auth.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	_, err = fmt.Fprintf(out, "VEHICLE_REGISTRY_CALLER_TOKEN_PUBLIC_KEY=%s\nVEHICLE_REGISTRY_CALLER_TOKEN_PRIVATE_KEY=%s\n", publicKey, privateKey)
	return err
}

// withClient dials the registry, bounds the call with timeouts.GRPCRequest
// and passes caller credentials when they are available. Write commands fail
// early without credentials.
func (c *cli) withClient(cmd *cobra.Command, write bool, call func(context.Context, *registryapi.Client, []grpc.CallOption) error) error {
	opts, err := c.callOptions(write)
	if err != nil {
		return err
	}
	if c.dial == nil {
		return errors.New("registry dialer is not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	conn, closer, err := c.dial(ctx, c.cfg.Addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Printf("close registry connection: %v", err)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCRequest)
	defer cancel()
	return call(callCtx, registryapi.NewClient(conn), opts)
}

func (c *cli) callOptions(write bool) ([]grpc.CallOption, error) {
	token := strings.TrimSpace(c.cfg.Token)
	if token == "" && strings.TrimSpace(c.cfg.As) != "" {
		minted, err := c.mint(c.cfg.As)
		if err != nil {
			return nil, err
		}
		token = minted
	}
	if token == "" {
		if write {
			return nil, errors.New("write commands need --token or --as")
		}
		return nil, nil
	}
	return []grpc.CallOption{grpc.PerRPCCredentials(auth.BearerToken(token))}, nil
}

func (c *cli) mint(rawAddress string) (string, error) {
	subject, err := domain.ParseAddress(rawAddress)
	if err != nil {
		return "", fmt.Errorf("caller address: %w", err)
	}
	signer, err := auth.LoadSignerConfigFromEnv(c.now)
	if err != nil {
		return "", fmt.Errorf("load signer config: %w", err)
	}
	token, err := auth.MintToken(signer, subject, c.cfg.TokenTTL)
	if err != nil {
		return "", fmt.Errorf("mint caller token: %w", err)
	}
	return token, nil
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
