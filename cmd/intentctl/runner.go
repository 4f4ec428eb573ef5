package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"DeFiIntent-Chain/internal/app"
	"DeFiIntent-Chain/internal/config"
	xerrors "DeFiIntent-Chain/internal/errors"
	"DeFiIntent-Chain/internal/pipeline"
	"DeFiIntent-Chain/pkg/logger"
)

// Runner 组装命令行并把输出写到指定的 writer。
type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

// NewRunner 构造 Runner。
func NewRunner(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type cliState struct {
	configPath string
	cfg        *config.Config
}

type parseFlags struct {
	balances []string
	session  string
	chain    string
	address  string
	mode     string
	output   string
	timeout  time.Duration
}

// Run 执行命令并返回进程退出码。
func (r *Runner) Run(args []string) int {
	state := &cliState{}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(r.stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

func (s *cliState) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "intentctl",
		Short: "Parse natural-language DeFi requests into executable commands",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			cfg, err := loadConfig(s.configPath)
			if err != nil {
				return err
			}
			s.cfg = cfg
			// 命令行输出只保留结果，日志压到 warn 级别写入 stderr。
			logCfg := cfg.Logging
			logCfg.Level = "warn"
			logCfg.Format = "text"
			logCfg.OutputPaths = []string{"stderr"}
			logCfg.Audit.Enabled = false
			return logger.Init(logCfg)
		},
	}
	root.PersistentFlags().StringVar(&s.configPath, "config", "", "path to intentd JSON config (defaults to $"+config.EnvPath+")")

	root.AddCommand(s.newParseCommand(), s.newCatalogCommand())
	return root
}

func loadConfig(path string) (*config.Config, error) {
	path = config.Resolve(path)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func (s *cliState) newParseCommand() *cobra.Command {
	flags := parseFlags{}
	cmd := &cobra.Command{
		Use:   "parse <text>",
		Short: "Run one turn through the intent pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			balances, err := parseBalances(flags.balances)
			if err != nil {
				return err
			}
			cfg := *s.cfg
			if flags.mode != "" {
				cfg.Pipeline.Mode = flags.mode
			}
			if flags.timeout > 0 {
				cfg.Pipeline.TimeoutMs = int(flags.timeout / time.Millisecond)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			comps, err := app.Build(ctx, &cfg)
			if err != nil {
				return err
			}
			defer comps.Close()

			result, err := comps.Pipeline.Process(ctx, pipeline.Request{
				SessionID:   flags.session,
				Text:        strings.Join(args, " "),
				Balances:    balances,
				Chain:       flags.chain,
				UserAddress: flags.address,
			})
			if err != nil && result == nil {
				return err
			}
			if flags.output == "text" {
				writeSummary(cmd.OutOrStdout(), result)
			} else {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&flags.balances, "balance", nil, "wallet balance as SYMBOL=amount, repeatable")
	cmd.Flags().StringVar(&flags.session, "session", "", "session id")
	cmd.Flags().StringVar(&flags.chain, "chain", "", "target chain")
	cmd.Flags().StringVar(&flags.address, "address", "", "user wallet address")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "processing mode: strict, flexible or experimental")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "json", "output format: json or text")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "overall turn timeout")
	return cmd
}

func (s *cliState) newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the tokens, protocols and chains the parser knows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := app.LoadCatalog(s.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tokens:    %s\n", strings.Join(catalog.TokenSymbols(), ", "))
			fmt.Fprintf(out, "protocols: %s\n", strings.Join(catalog.ProtocolNames(), ", "))
			fmt.Fprintf(out, "chains:    %s\n", strings.Join(catalog.ChainNames(), ", "))
			return nil
		},
	}
}

// parseBalances 解析 SYMBOL=amount 形式的余额参数，符号统一为大写。
func parseBalances(raw []string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	balances := make(map[string]float64, len(raw))
	for _, item := range raw {
		symbol, amount, ok := strings.Cut(item, "=")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if !ok || symbol == "" {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "余额参数 %q 需要 SYMBOL=amount 格式", item)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
		if err != nil || v < 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "余额参数 %q 的数量无效", item)
		}
		balances[symbol] = v
	}
	return balances, nil
}

func writeSummary(w io.Writer, result *pipeline.TurnResult) {
	fmt.Fprintf(w, "state:      %s\n", result.State)
	if c := result.Classification; c != nil {
		fmt.Fprintf(w, "intent:     %s (%.2f via %s)\n", c.Intent, c.Confidence, c.Strategy)
	}
	if result.Failure != nil {
		fmt.Fprintf(w, "failure:    %s\n", result.Failure.Message)
	}
	if cmd := result.Command(); cmd != nil {
		fmt.Fprintf(w, "action:     %s\n", cmd.Action)
		if params, err := json.Marshal(cmd.Parameters); err == nil {
			fmt.Fprintf(w, "parameters: %s\n", params)
		}
		fmt.Fprintf(w, "risk:       %s (%d)\n", cmd.RiskLevel, cmd.RiskScore)
		if cmd.EstimatedGas != nil {
			fmt.Fprintf(w, "gas:        %d\n", *cmd.EstimatedGas)
		}
		fmt.Fprintf(w, "confirm:    %t\n", cmd.ConfirmationRequired)
	}
	if r := result.Result; r != nil {
		if r.Disambiguation != nil {
			fmt.Fprintf(w, "question:   %s\n", r.Disambiguation.Question)
			for _, opt := range r.Disambiguation.Options {
				fmt.Fprintf(w, "  - %s\n", opt)
			}
		}
		for _, ve := range r.ValidationErrors {
			fmt.Fprintf(w, "%-10s  %s: %s\n", ve.Severity, ve.Field, ve.Message)
		}
	}
	for _, s := range result.Suggestions {
		fmt.Fprintf(w, "hint:       %s\n", s)
	}
}
