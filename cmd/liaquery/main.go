// Command liaquery checks one registration number or Trello card from the
// terminal, or serves the verification tool over MCP stdio.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/agentcheck/captcha"
	"github.com/hazyhaar/agentcheck/config"
	"github.com/hazyhaar/agentcheck/evidence"
	"github.com/hazyhaar/agentcheck/lia"
	"github.com/hazyhaar/agentcheck/trello"
	"github.com/hazyhaar/agentcheck/verify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "錯誤:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration file")
	headless := flag.Bool("headless", true, "run Chrome without a window")
	retries := flag.Int("retries", 10, "maximum CAPTCHA submissions")
	outDir := flag.String("out", ".", "directory for the screenshot")
	withPDF := flag.Bool("pdf", false, "also write the screenshot as a PDF")
	serveMCP := flag.Bool("mcp", false, "serve the verification tool over MCP stdio")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	cfg.Browser.Headless = *headless

	lvl := slog.LevelWarn
	if *verbose {
		lvl = slog.LevelDebug
	}
	// stdout belongs to MCP framing in -mcp mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	cfg.Browser.Logger = logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessions := lia.NewRodSessions(cfg.Browser)
	defer sessions.Close()

	loc := cfg.Location()
	orch := lia.NewOrchestrator(cfg.Query.Config, sessions.Open,
		captcha.NewHTTPSolver(cfg.OCR, logger),
		lia.WithLogger(logger),
		lia.WithClock(func() time.Time { return time.Now().In(loc) }),
	)
	svc := verify.New(orch,
		verify.WithCards(trello.NewClient(cfg.Trello, logger)),
		verify.WithLogger(logger),
		verify.WithMaxRetries(*retries),
		verify.WithTimeout(cfg.Query.Timeout),
	)

	if *serveMCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "agentcheck", Version: "1.0.0"}, nil)
		svc.RegisterMCP(srv)
		return srv.Run(ctx, &mcp.StdioTransport{})
	}

	input := strings.Join(flag.Args(), " ")
	if strings.TrimSpace(input) == "" {
		fmt.Print("請輸入登錄字號或 Trello 卡片網址: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("沒有輸入")
		}
		input = line
	}

	fmt.Println("查詢中...")
	c, err := svc.Check(ctx, input, verify.SourceCLI)
	if err != nil {
		if verify.IsInputError(err) {
			return err
		}
		return errors.New(verify.FailureMessage(err))
	}
	res := c.Result

	fmt.Printf("登錄字號: %s\n結果: %s\n嘗試次數: %d\n", res.RegistrationNumber, res.Message, res.Attempts)
	if len(res.Screenshot) > 0 {
		path := filepath.Join(*outDir, res.Filename)
		if err := os.WriteFile(path, res.Screenshot, 0o644); err != nil {
			return fmt.Errorf("write screenshot: %w", err)
		}
		fmt.Println("截圖:", path)
		if *withPDF {
			pdf, err := evidence.PDFBytes(res.Screenshot)
			if err != nil {
				return err
			}
			pdfPath := filepath.Join(*outDir, lia.Stem(res.Filename)+".pdf")
			if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
				return fmt.Errorf("write pdf: %w", err)
			}
			fmt.Println("PDF:", pdfPath)
		}
	}
	if c.Target.FromCard() {
		if c.Reported {
			fmt.Println("已回報至 Trello 卡片")
		} else {
			fmt.Println("未能回報至 Trello 卡片")
		}
	}

	fmt.Println()
	fmt.Println(verify.EmailComment(res.Email, c.Target.ContactEmail))
	return nil
}
