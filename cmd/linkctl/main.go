package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/linkctl/internal/bridge"
	"github.com/danmuck/linkctl/internal/config"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/danmuck/linkctl/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultConfigPath = "linkctl.toml"

const usage = `usage: linkctl <command> [flags]

commands:
  serve     run the link and its configured surfaces
  chat      line-oriented client for a running bridge
  init      write a starter config
  validate  load and check a config
`

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return runServe(rest)
	case "chat":
		return runChat(rest, stdin, stdout)
	case "init":
		return runInit(rest, stdout)
	case "validate":
		return runValidate(rest, stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath, "config path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	return service.NewService(cfg).Run()
}

func runInit(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	output := fs.String("output", defaultConfigPath, "output path for config template")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote config template to %s\n", *output)
	return nil
}

func runValidate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	path := fs.String("config", defaultConfigPath, "config path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "validated %s: node=%s transport=%s\n", *path, cfg.NodeID, cfg.Transport.Kind)
	return nil
}

func runChat(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	addr := fs.String("bridge", "127.0.0.1:7400", "gRPC bridge address")
	timeout := fs.Duration("timeout", 2*time.Second, "per-call timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cc, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("bridge dial %s: %w", *addr, err)
	}
	defer cc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return chat(ctx, bridge.NewClient(cc), stdin, stdout, *timeout)
}

// chatLink is the subset of bridge.Client the chat loop drives.
type chatLink interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) error
	Disconnect(ctx context.Context, opts ...grpc.CallOption) error
	Send(ctx context.Context, payload []byte, opts ...grpc.CallOption) error
	Recv(ctx context.Context, opts ...grpc.CallOption) ([]byte, error)
	State(ctx context.Context, opts ...grpc.CallOption) (string, error)
}

func chat(ctx context.Context, link chatLink, stdin io.Reader, stdout io.Writer, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	received := make(chan []byte)
	go func() {
		for {
			rctx, rcancel := context.WithTimeout(ctx, timeout)
			payload, err := link.Recv(rctx)
			rcancel()
			switch {
			case err == nil:
				select {
				case received <- payload:
				case <-ctx.Done():
					return
				}
			case ctx.Err() != nil:
				return
			case errors.Is(err, session.ErrNoData):
			default:
				time.Sleep(timeout)
			}
		}
	}()

	call := func(fn func(context.Context) error) error {
		cctx, ccancel := context.WithTimeout(ctx, timeout)
		defer ccancel()
		return fn(cctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-received:
			fmt.Fprintf(stdout, "< %s\n", payload)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			var err error
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return nil
			case "/connect":
				err = call(func(c context.Context) error { return link.Connect(c) })
			case "/leave":
				err = call(func(c context.Context) error { return link.Disconnect(c) })
			case "/state":
				err = call(func(c context.Context) error {
					state, err := link.State(c)
					if err == nil {
						fmt.Fprintf(stdout, "state: %s\n", state)
					}
					return err
				})
			default:
				err = call(func(c context.Context) error { return link.Send(c, []byte(line)) })
			}
			if err != nil {
				fmt.Fprintf(stdout, "! %v\n", err)
			}
		}
	}
}
