package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"polyfit/pkg/client"
	"polyfit/pkg/model"
	"polyfit/pkg/query"
)

const Prompt = "polyfit> "

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:          "polyfit",
		Short:        "polyfit CLI: Lagrange interpolation over the binary TCP protocol",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", "localhost:9090", "polyfit TCP server address")

	connect := func() (*client.Client, error) {
		cli, err := client.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("connection failed: %w (is the server running?)", err)
		}
		return cli, nil
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "fit <points>",
			Short: `Interpolate points, e.g. fit "(0,1) (1,2) (2,5)"`,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				points, err := query.ParsePoints(strings.Join(args, " "))
				if err != nil {
					return err
				}
				cli, err := connect()
				if err != nil {
					return err
				}
				defer cli.Close()
				return runFit(cmd.OutOrStdout(), cli, &query.Command{Kind: query.KindFit, Points: points})
			},
		},
		&cobra.Command{
			Use:   "eval <x> <points>",
			Short: `Interpolate points and evaluate at x, e.g. eval 3 "(0,1) (1,2) (2,5)"`,
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				x, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("invalid x %q", args[0])
				}
				points, err := query.ParsePoints(strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				cli, err := connect()
				if err != nil {
					return err
				}
				defer cli.Close()
				return runEval(cmd.OutOrStdout(), cli, &query.Command{Kind: query.KindEval, X: x, Points: points})
			},
		},
		&cobra.Command{
			Use:   "format <c0> <c1> ...",
			Short: "Render coefficients (constant term first) as f(x) = ...",
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := query.Parse("FORMAT " + strings.Join(args, " "))
				if err != nil {
					return err
				}
				cli, err := connect()
				if err != nil {
					return err
				}
				defer cli.Close()
				return runFormat(cmd.OutOrStdout(), cli, c)
			},
		},
		&cobra.Command{
			Use:   "repl",
			Short: "Interactive shell (FIT / EVAL / FORMAT)",
			RunE: func(cmd *cobra.Command, args []string) error {
				cli, err := connect()
				if err != nil {
					return err
				}
				defer cli.Close()
				repl(cmd.InOrStdin(), cmd.OutOrStdout(), cli)
				return nil
			},
		},
	)
	return root
}

func runFit(w io.Writer, cli *client.Client, c *query.Command) error {
	start := time.Now()
	coeffs, err := cli.Interpolate(c.Points)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(w, "%s (%v)\n", coeffs.Format(), time.Since(start))
	fmt.Fprintf(w, "coefficients: %v\n", []float64(coeffs))
	return nil
}

func runEval(w io.Writer, cli *client.Client, c *query.Command) error {
	coeffs, err := cli.Interpolate(c.Points)
	if err != nil {
		return explain(err)
	}
	y, err := cli.Evaluate(coeffs, c.X)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintf(w, "%s\n", coeffs.Format())
	fmt.Fprintf(w, "f(%g) = %s\n", c.X, model.FormatNumber(y))
	return nil
}

func runFormat(w io.Writer, cli *client.Client, c *query.Command) error {
	s, err := cli.Format(c.Coefficients)
	if err != nil {
		return explain(err)
	}
	fmt.Fprintln(w, s)
	return nil
}

// explain turns solver errors into a hint for the user.
func explain(err error) error {
	var ipe *model.InsufficientPointsError
	if errors.As(err, &ipe) {
		return fmt.Errorf("%w (add %d more point(s))", err, ipe.Missing())
	}
	if errors.Is(err, model.ErrDegenerateInput) {
		return fmt.Errorf("%w (x values must be distinct)", err)
	}
	return err
}

func repl(in io.Reader, w io.Writer, cli *client.Client) {
	fmt.Fprintln(w, "Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(w, Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "help":
			printHelp(w)
			continue
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		}

		c, err := query.Parse(line)
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			continue
		}

		switch c.Kind {
		case query.KindFit:
			err = runFit(w, cli, c)
		case query.KindEval:
			err = runEval(w, cli, c)
		case query.KindFormat:
			err = runFormat(w, cli, c)
		}
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Commands:
  FIT (x,y) (x,y) ...        Interpolate points
  EVAL <x> (x,y) (x,y) ...   Interpolate, then evaluate at x
  FORMAT <c0> <c1> ...       Render coefficients, constant term first
  exit                       Exit CLI
	`)
}
