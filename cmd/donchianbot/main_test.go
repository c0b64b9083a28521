package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		configPath, logLevel, jsonLogs = "", "", false
		btSymbols, btFrom, btTo, btReport = nil, "", "", ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitThenPrint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	out, err := execute(t, "config", "init", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote") {
		t.Fatalf("unexpected output %q", out)
	}

	t.Setenv("ALPACA_SECRET_KEY", "topsecret")
	out, err = execute(t, "config", "--config", path)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out, "topsecret") || !strings.Contains(out, "****") {
		t.Fatalf("secret not redacted:\n%s", out)
	}
	if !strings.Contains(out, "donchian_period: 20") {
		t.Fatalf("missing indicator defaults:\n%s", out)
	}
}

func TestBacktestCommand(t *testing.T) {
	dataDir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 40 {
		c := 100 + float64(i%5)
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,500\n", day.AddDate(0, 0, i).Format(time.DateOnly), c, c+1, c-1, c)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "SPY.csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfgYAML := fmt.Sprintf("app:\n  log_level: error\nmarketdata:\n  source: csv\n  csv_dir: %q\n  symbols: [spy]\n", dataDir)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	reportPath := filepath.Join(t.TempDir(), "report.json")

	out, err := execute(t, "backtest", "--config", cfgPath, "--report", reportPath, "--json")
	if err != nil {
		t.Fatalf("backtest: %v\n%s", err, out)
	}
	if !strings.Contains(out, "SPY") || !strings.Contains(out, "bars 40") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if _, err := os.Stat(reportPath); err != nil {
		t.Fatalf("report not written: %v", err)
	}
}

func TestBacktestNeedsSymbols(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("marketdata:\n  symbols: []\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := execute(t, "backtest", "--config", cfgPath); err == nil {
		t.Fatalf("expected error without symbols")
	}
}

func TestBacktestRecordsRunInStore(t *testing.T) {
	dataDir := t.TempDir()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 30 {
		fmt.Fprintf(&b, "%s,100,101,99,100,500\n", day.AddDate(0, 0, i).Format(time.DateOnly))
	}
	if err := os.WriteFile(filepath.Join(dataDir, "QQQ.csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cfgYAML := fmt.Sprintf("app:\n  log_level: error\nmarketdata:\n  source: csv\n  csv_dir: %q\n  symbols: [qqq]\nstore:\n  enabled: true\n  path: %q\n",
		dataDir, filepath.Join(t.TempDir(), "state"))
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if out, err := execute(t, "backtest", "--config", cfgPath); err != nil {
		t.Fatalf("backtest: %v\n%s", err, out)
	}
	out, err := execute(t, "runs", "--config", cfgPath)
	if err != nil {
		t.Fatalf("runs: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed") || !strings.Contains(out, "DonchianADXBreakout") || !strings.Contains(out, "bars 30") {
		t.Fatalf("run not listed:\n%s", out)
	}
}
