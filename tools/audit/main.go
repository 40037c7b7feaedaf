package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendcore/native/lending"
)

type reserveSpec struct {
	Asset                string `yaml:"asset"`
	ReceiptToken         string `yaml:"receiptToken"`
	LTV                  string `yaml:"ltv"`
	LiquidationThreshold string `yaml:"liquidationThreshold"`
	LiquidationBonus     string `yaml:"liquidationBonus"`
	CloseFactor          string `yaml:"closeFactor"`
}

type rateModelSpec struct {
	BaseRate string `yaml:"baseRate"`
	Slope1   string `yaml:"slope1"`
	Slope2   string `yaml:"slope2"`
	Kink     string `yaml:"kink"`
}

type sheetSpec struct {
	Reserves  []reserveSpec  `yaml:"reserves"`
	RateModel *rateModelSpec `yaml:"rateModel"`
}

type finding struct {
	Check  string `json:"check"`
	Target string `json:"target,omitempty"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type summary struct {
	GeneratedAt string    `json:"generated_at"`
	SheetPath   string    `json:"sheet_path"`
	SheetSHA256 string    `json:"sheet_sha256"`
	Reserves    int       `json:"reserves"`
	Findings    []finding `json:"findings"`
	Passed      bool      `json:"passed"`
}

func main() {
	var (
		sheetPath = flag.String("sheet", "ops/audit/reserves.yaml", "path to the reserve parameter sheet")
		outPath   = flag.String("out", "", "optional JSON summary output path (stdout when empty)")
		markdown  = flag.String("markdown", "", "optional markdown report path")
	)
	flag.Parse()

	data, err := os.ReadFile(*sheetPath)
	if err != nil {
		fatal(fmt.Sprintf("read sheet: %v", err))
	}
	var sheet sheetSpec
	if err := yaml.Unmarshal(data, &sheet); err != nil {
		fatal(fmt.Sprintf("decode sheet: %v", err))
	}
	if len(sheet.Reserves) == 0 {
		fatal("sheet lists no reserves")
	}

	sheetSHA := sha256.Sum256(data)
	findings := auditReserves(sheet.Reserves)
	findings = append(findings, auditRateModel(sheet.RateModel)...)

	passed := true
	for _, f := range findings {
		if f.Status == "fail" {
			passed = false
			break
		}
	}

	report := summary{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		SheetPath:   toRelative(*sheetPath),
		SheetSHA256: hex.EncodeToString(sheetSHA[:]),
		Reserves:    len(sheet.Reserves),
		Findings:    findings,
		Passed:      passed,
	}

	if *outPath != "" {
		if err := writeJSON(*outPath, report); err != nil {
			fatal(fmt.Sprintf("write json: %v", err))
		}
	} else {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fatal(fmt.Sprintf("encode report: %v", err))
		}
		fmt.Println(string(encoded))
	}
	if *markdown != "" {
		if err := writeMarkdown(*markdown, &report); err != nil {
			fatal(fmt.Sprintf("write markdown: %v", err))
		}
	}
	if !passed {
		os.Exit(1)
	}
}

func auditReserves(reserves []reserveSpec) []finding {
	findings := make([]finding, 0, len(reserves)*4)
	wad := lending.Wad()
	seenAssets := make(map[string]bool)
	seenReceipts := make(map[string]bool)
	for _, res := range reserves {
		asset := strings.ToUpper(strings.TrimSpace(res.Asset))
		receipt := strings.ToUpper(strings.TrimSpace(res.ReceiptToken))
		findings = append(findings, check("symbols", asset, asset != "" && receipt != "" && asset != receipt,
			fmt.Sprintf("asset %q receipt %q", res.Asset, res.ReceiptToken)))
		findings = append(findings, check("unique-asset", asset, !seenAssets[asset], "asset listed twice"))
		findings = append(findings, check("unique-receipt", asset, !seenReceipts[receipt] && !seenAssets[receipt],
			fmt.Sprintf("receipt %q collides with another listing", res.ReceiptToken)))
		seenAssets[asset] = true
		seenReceipts[receipt] = true

		ltv, ltvOK := parseWad(res.LTV)
		threshold, thresholdOK := parseWad(res.LiquidationThreshold)
		_, bonusOK := parseWad(res.LiquidationBonus)
		closeFactor, closeOK := parseWad(res.CloseFactor)
		findings = append(findings, check("ratios-parse", asset, ltvOK && thresholdOK && bonusOK && closeOK,
			"every ratio must be a non-negative integer string"))
		if !ltvOK || !thresholdOK || !bonusOK || !closeOK {
			continue
		}
		findings = append(findings, check("ltv-below-threshold", asset, ltv.Cmp(threshold) <= 0,
			fmt.Sprintf("ltv %s exceeds liquidation threshold %s", ltv, threshold)))
		findings = append(findings, check("threshold-bounded", asset, threshold.Cmp(wad) <= 0,
			fmt.Sprintf("liquidation threshold %s exceeds one", threshold)))
		findings = append(findings, check("close-factor-bounded", asset, closeFactor.Cmp(wad) <= 0,
			fmt.Sprintf("close factor %s exceeds one", closeFactor)))
	}
	return findings
}

func auditRateModel(spec *rateModelSpec) []finding {
	if spec == nil {
		return []finding{{Check: "rate-model", Status: "fail", Detail: "sheet carries no rate model"}}
	}
	base, baseOK := parseWad(spec.BaseRate)
	slope1, slope1OK := parseWad(spec.Slope1)
	slope2, slope2OK := parseWad(spec.Slope2)
	kink, kinkOK := parseWad(spec.Kink)
	if !baseOK || !slope1OK || !slope2OK || !kinkOK {
		return []finding{{Check: "rate-model", Status: "fail", Detail: "every rate field must be a non-negative integer string"}}
	}
	model := lending.RateModel{BaseRate: base, Slope1: slope1, Slope2: slope2, Kink: kink}
	findings := make([]finding, 0, 2)
	if err := model.Validate(); err != nil {
		findings = append(findings, finding{Check: "rate-model", Status: "fail", Detail: err.Error()})
	} else {
		findings = append(findings, finding{Check: "rate-model", Status: "pass"})
	}
	findings = append(findings, check("kink-bounded", "", kink.Cmp(lending.Wad()) <= 0,
		fmt.Sprintf("kink %s exceeds one", kink)))
	return findings
}

func check(name, target string, ok bool, detail string) finding {
	f := finding{Check: name, Target: target, Status: "pass"}
	if !ok {
		f.Status = "fail"
		f.Detail = detail
	}
	return f
}

func parseWad(value string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, false
	}
	return parsed, true
}

func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "audit: %s\n", msg)
	os.Exit(1)
}

func toRelative(path string) string {
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(cwd, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

func writeJSON(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeMarkdown(path string, sum *summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("# Reserve Parameter Audit\n\n")
	fmt.Fprintf(&b, "- Generated: `%s`\n", sum.GeneratedAt)
	fmt.Fprintf(&b, "- Sheet: `%s`\n", sum.SheetPath)
	fmt.Fprintf(&b, "- Sheet SHA256: `%s`\n", sum.SheetSHA256)
	fmt.Fprintf(&b, "- Reserves: %d\n", sum.Reserves)
	fmt.Fprintf(&b, "- Passed: `%t`\n\n", sum.Passed)

	b.WriteString("## Findings\n\n")
	b.WriteString("| Check | Target | Status | Detail |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, f := range sum.Findings {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", escapeMD(f.Check), escapeMD(f.Target), escapeMD(f.Status), escapeMD(f.Detail))
	}
	b.WriteString("\n")

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func escapeMD(input string) string {
	return strings.ReplaceAll(input, "|", "\\|")
}
