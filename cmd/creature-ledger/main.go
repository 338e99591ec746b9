// Command creature-ledger runs the creature ledger HTTP API and offers
// one-shot ledger operations against the configured store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"creatureledger/internal/blob"
	"creatureledger/internal/config"
	"creatureledger/internal/journal"
	"creatureledger/pkg/domain"
)

var exitFunc = os.Exit

const usage = `usage: creature-ledger <command> [flags] [args]

commands:
  serve [-addr ADDR]                 run the HTTP API
  mint -caller ACCOUNT               create a creature
  breed -caller ACCOUNT P1 P2        breed two creatures
  transfer -caller ACCOUNT ID TO     hand a creature to another account
  deposit ACCOUNT AMOUNT             credit free funds
  show ID | show -account ACCOUNT    inspect a creature or an account
  events                             print the notification journal

storage and journal flags are accepted by every command; run a command
with -h to list them.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

type command struct {
	cfg     config.Config
	caller  string
	account string
	args    []string
	stdout  io.Writer
	logger  *slog.Logger
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	name := args[0]
	switch name {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	case "serve", "mint", "breed", "transfer", "deposit", "show", "events":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "creature-ledger: %v\n", err)
		return 1
	}
	cmd := &command{stdout: stdout}
	fs := flag.NewFlagSet("creature-ledger "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.BindFlags(fs)
	switch name {
	case "serve":
		fs.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "listen address (env CREATURELEDGER_HTTP_ADDR)")
	case "mint", "breed", "transfer":
		fs.StringVar(&cmd.caller, "caller", "", "account performing the operation")
	case "show":
		fs.StringVar(&cmd.account, "account", "", "show the creatures and balance of this account")
	}
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "creature-ledger: invalid configuration: %v\n", err)
		return 1
	}
	level, _ := cfg.SlogLevel()
	cmd.cfg = cfg
	cmd.args = fs.Args()
	cmd.logger = slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))

	var runErr error
	switch name {
	case "serve":
		runErr = serve(ctx, cfg, cmd.logger, nil)
	case "events":
		runErr = cmd.events(ctx)
	default:
		runErr = cmd.withLedger(ctx, func(l *ledger) error {
			switch name {
			case "mint":
				return cmd.mint(ctx, l)
			case "breed":
				return cmd.breed(ctx, l)
			case "transfer":
				return cmd.transfer(ctx, l)
			case "deposit":
				return cmd.deposit(ctx, l)
			default:
				return cmd.show(l)
			}
		})
	}
	if runErr != nil {
		fmt.Fprintf(stderr, "creature-ledger %s: %v\n", name, runErr)
		var usageErr usageError
		if errors.As(runErr, &usageErr) {
			return 2
		}
		return 1
	}
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func (c *command) withLedger(ctx context.Context, fn func(*ledger) error) (err error) {
	l, err := openLedger(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(l)
}

func (c *command) requireCaller() (domain.Account, error) {
	if c.caller == "" {
		return "", usageError{"-caller is required"}
	}
	return domain.Account(c.caller), nil
}

func (c *command) expectArgs(n int, names string) error {
	if len(c.args) != n {
		return usageError{fmt.Sprintf("expected %s, got %d arguments", names, len(c.args))}
	}
	return nil
}

func (c *command) mint(ctx context.Context, l *ledger) error {
	caller, err := c.requireCaller()
	if err != nil {
		return err
	}
	if err := c.expectArgs(0, "no arguments"); err != nil {
		return err
	}
	asset, _, err := l.svc.Mint(ctx, caller)
	if err != nil {
		return err
	}
	return c.print(creatureView{ID: asset.ID, Genome: asset.Genome, Owner: caller})
}

func (c *command) breed(ctx context.Context, l *ledger) error {
	caller, err := c.requireCaller()
	if err != nil {
		return err
	}
	if err := c.expectArgs(2, "two parent ids"); err != nil {
		return err
	}
	p1, err := domain.ParseAssetID(c.args[0])
	if err != nil {
		return usageError{err.Error()}
	}
	p2, err := domain.ParseAssetID(c.args[1])
	if err != nil {
		return usageError{err.Error()}
	}
	asset, _, err := l.svc.Breed(ctx, caller, p1, p2)
	if err != nil {
		return err
	}
	return c.print(creatureView{ID: asset.ID, Genome: asset.Genome, Owner: caller})
}

func (c *command) transfer(ctx context.Context, l *ledger) error {
	caller, err := c.requireCaller()
	if err != nil {
		return err
	}
	if err := c.expectArgs(2, "an asset id and the receiving account"); err != nil {
		return err
	}
	id, err := domain.ParseAssetID(c.args[0])
	if err != nil {
		return usageError{err.Error()}
	}
	to := domain.Account(c.args[1])
	if _, err := l.svc.Transfer(ctx, caller, id, to); err != nil {
		return err
	}
	asset, _ := l.svc.Asset(id)
	return c.print(creatureView{ID: asset.ID, Genome: asset.Genome, Owner: to})
}

func (c *command) deposit(ctx context.Context, l *ledger) error {
	if err := c.expectArgs(2, "an account and an amount"); err != nil {
		return err
	}
	amount, err := strconv.ParseUint(c.args[1], 10, 64)
	if err != nil {
		return usageError{fmt.Sprintf("invalid amount %q", c.args[1])}
	}
	account := domain.Account(c.args[0])
	bal, err := l.svc.Deposit(ctx, account, domain.Amount(amount))
	if err != nil {
		return err
	}
	return c.print(accountView{Account: account, Free: bal.Free, Reserved: bal.Reserved})
}

func (c *command) show(l *ledger) error {
	if c.account != "" {
		if err := c.expectArgs(0, "no arguments with -account"); err != nil {
			return err
		}
		account := domain.Account(c.account)
		bal := l.svc.Balance(account)
		ids := slices.Clone(l.svc.OwnedBy(account))
		slices.Sort(ids)
		return c.print(accountView{Account: account, Free: bal.Free, Reserved: bal.Reserved, Creatures: ids})
	}
	if err := c.expectArgs(1, "an asset id or -account"); err != nil {
		return err
	}
	id, err := domain.ParseAssetID(c.args[0])
	if err != nil {
		return usageError{err.Error()}
	}
	asset, ok := l.svc.Asset(id)
	if !ok {
		return fmt.Errorf("asset %s: %w", id, domain.ErrUnknownAsset)
	}
	owner, _ := l.svc.OwnerOf(id)
	return c.print(creatureView{ID: asset.ID, Genome: asset.Genome, Owner: owner})
}

func (c *command) events(ctx context.Context) error {
	if !c.cfg.JournalEnabled() {
		return usageError{"journal disabled: set CREATURELEDGER_BLOB_DRIVER or -blob-driver"}
	}
	store, err := blob.Open(ctx, c.cfg.Blob())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	events, err := journal.ReadAll(ctx, store)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return err
		}
	}
	return nil
}

type creatureView struct {
	ID     domain.AssetID `json:"id"`
	Genome domain.Genome  `json:"genome"`
	Owner  domain.Account `json:"owner,omitempty"`
}

type accountView struct {
	Account   domain.Account   `json:"account"`
	Free      domain.Amount    `json:"free"`
	Reserved  domain.Amount    `json:"reserved"`
	Creatures []domain.AssetID `json:"creatures,omitempty"`
}

func (c *command) print(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
