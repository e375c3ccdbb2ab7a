package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all activity tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	s.AddTool(gomcp.NewTool("activity_status",
		gomcp.WithDescription("Get the daily activity state: idle/running/waiting_24h/stopping, in-flight operations, next run time, account count and the active config."),
	), statusHandler(client))

	s.AddTool(gomcp.NewTool("activity_health",
		gomcp.WithDescription("Quick readiness check. Verifies the chain RPC is reachable."),
	), healthHandler(client))

	s.AddTool(gomcp.NewTool("activity_start",
		gomcp.WithDescription("Start a daily activity cycle over all accounts. This is a MUTATING operation that sends transactions."),
	), startHandler(client))

	s.AddTool(gomcp.NewTool("activity_stop",
		gomcp.WithDescription("Request a cooperative stop. In-flight transactions finish; no new ones start. This is a MUTATING operation."),
	), stopHandler(client))

	s.AddTool(gomcp.NewTool("activity_wallets",
		gomcp.WithDescription("Fetch fresh native and token balances of every account."),
		gomcp.WithNumber("selected",
			gomcp.Description("Index of the account to mark as selected (default: none)"),
		),
	), walletsHandler(client))

	s.AddTool(gomcp.NewTool("activity_config_get",
		gomcp.WithDescription("Get the daily activity config: swap repetitions and amount ranges."),
	), configGetHandler(client))

	s.AddTool(gomcp.NewTool("activity_config_set",
		gomcp.WithDescription("Update the daily activity config. Omitted fields keep their current value. This is a MUTATING operation."),
		gomcp.WithNumber("swap_repetitions",
			gomcp.Description("Swaps per account per cycle"),
		),
		gomcp.WithNumber("xos_min",
			gomcp.Description("Minimum native amount for native-to-token swaps"),
		),
		gomcp.WithNumber("xos_max",
			gomcp.Description("Maximum native amount for native-to-token swaps"),
		),
		gomcp.WithString("token_ranges",
			gomcp.Description(`Token ranges as JSON, e.g. {"USDC":{"min":0.02,"max":0.045}}`),
		),
	), configSetHandler(client))

	s.AddTool(gomcp.NewTool("activity_history",
		gomcp.WithDescription("List recorded cycles or operations, newest first (paginated)."),
		gomcp.WithString("type",
			gomcp.Description("cycles (default) or operations"),
			gomcp.Enum("cycles", "operations"),
		),
		gomcp.WithString("cycle_id",
			gomcp.Description("Only operations of this cycle"),
		),
		gomcp.WithString("account",
			gomcp.Description("Only operations of this account address"),
		),
		gomcp.WithString("status",
			gomcp.Description("Only operations with this status: success, failed, skipped, stopped"),
		),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 500)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	), historyHandler(client))

	s.AddTool(gomcp.NewTool("activity_create_token",
		gomcp.WithDescription("Create an ERC20 token from one account through the token router. This is a MUTATING operation."),
		gomcp.WithNumber("account_index",
			gomcp.Description("Account index (0-based). Defaults to the account selected in the wallet view"),
		),
		gomcp.WithString("name", gomcp.Required(), gomcp.Description("Token name")),
		gomcp.WithString("symbol", gomcp.Required(), gomcp.Description("Token symbol")),
		gomcp.WithString("supply", gomcp.Required(), gomcp.Description("Total supply in whole tokens")),
	), createTokenHandler(client))

	s.AddTool(gomcp.NewTool("activity_deploy_contract",
		gomcp.WithDescription("Deploy a contract from one account through the deploy router. Funding must cover the router's deployment fee. This is a MUTATING operation."),
		gomcp.WithNumber("account_index",
			gomcp.Description("Account index (0-based). Defaults to the account selected in the wallet view"),
		),
		gomcp.WithString("name", gomcp.Required(), gomcp.Description("Contract name")),
		gomcp.WithString("funding", gomcp.Required(), gomcp.Description("Native amount sent with the deployment")),
	), deployHandler(client))
}

func statusHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Activity service unreachable: %v\n\nIs the service running?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	}
}

func healthHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/ready")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Activity service unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	}
}

func startHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := client.Post(ctx, "/v1/start", nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Start failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Daily Activity Started"),
			"Use activity_status to follow progress.",
		)), nil
	}
}

func stopHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if _, err := client.Post(ctx, "/v1/stop", nil); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Stop failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Stop Requested"),
			"In-flight operations are finishing. The state returns to idle once they drain.",
		)), nil
	}
}

func walletsHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		path := "/v1/wallets"
		if sel := req.GetInt("selected", -1); sel >= 0 {
			path += "?selected=" + strconv.Itoa(sel)
		}
		raw, err := client.Get(ctx, path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Wallets failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatWallets(raw)), nil
	}
}

func configGetHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/config")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Config failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatConfig(raw)), nil
	}
}

func configSetHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get(ctx, "/v1/config")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Config failed: %v", err)), nil
		}
		var cfg map[string]any
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Config unreadable: %v", err)), nil
		}

		if v := req.GetInt("swap_repetitions", 0); v > 0 {
			cfg["swapRepetitions"] = v
		}
		xos, _ := cfg["xosSwapRange"].(map[string]any)
		if xos == nil {
			xos = map[string]any{}
		}
		if v := req.GetFloat("xos_min", 0); v > 0 {
			xos["min"] = v
		}
		if v := req.GetFloat("xos_max", 0); v > 0 {
			xos["max"] = v
		}
		cfg["xosSwapRange"] = xos

		if v := req.GetString("token_ranges", ""); v != "" {
			var ranges map[string]map[string]float64
			if err := json.Unmarshal([]byte(v), &ranges); err != nil {
				return gomcp.NewToolResultError(fmt.Sprintf("token_ranges must be JSON: %v", err)), nil
			}
			existing, _ := cfg["tokenSwapRanges"].(map[string]any)
			if existing == nil {
				existing = map[string]any{}
			}
			for sym, r := range ranges {
				existing[sym] = r
			}
			cfg["tokenSwapRanges"] = existing
		}

		saved, err := client.Put(ctx, "/v1/config", cfg)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Config update failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatConfig(saved)), nil
	}
}

func historyHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(req.GetInt("limit", 10)))
		q.Set("offset", strconv.Itoa(req.GetInt("offset", 0)))

		if req.GetString("type", "cycles") != "operations" {
			raw, err := client.Get(ctx, "/v1/cycles?"+q.Encode())
			if err != nil {
				return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
			}
			return gomcp.NewToolResultText(formatCycles(raw)), nil
		}

		for param, key := range map[string]string{"cycle_id": "cycleId", "account": "account", "status": "status"} {
			if v := req.GetString(param, ""); v != "" {
				q.Set(key, v)
			}
		}
		raw, err := client.Get(ctx, "/v1/operations?"+q.Encode())
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatOperations(raw)), nil
	}
}

func createTokenHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		payload := map[string]any{}
		if _, ok := req.GetArguments()["account_index"]; ok {
			payload["accountIndex"] = req.GetInt("account_index", 0)
		}
		for _, field := range []string{"name", "symbol", "supply"} {
			v, err := req.RequireString(field)
			if err != nil || v == "" {
				return gomcp.NewToolResultError(field + " is required"), nil
			}
			payload[field] = v
		}

		raw, err := client.Post(ctx, "/v1/token", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Create token failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatOperationResult("Token Created", raw)), nil
	}
}

func deployHandler(client *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		payload := map[string]any{}
		if _, ok := req.GetArguments()["account_index"]; ok {
			payload["accountIndex"] = req.GetInt("account_index", 0)
		}
		for _, field := range []string{"name", "funding"} {
			v, err := req.RequireString(field)
			if err != nil || v == "" {
				return gomcp.NewToolResultError(field + " is required"), nil
			}
			payload[field] = v
		}

		raw, err := client.Post(ctx, "/v1/deploy", payload)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Deploy failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatOperationResult("Contract Deployed", raw)), nil
	}
}

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	lines := joinLines(
		section("Daily Activity Status"),
		kv("State", getStr(m, "state")),
		kv("Stop Requested", m["stopRequested"] == true),
		kv("In Flight", formatNumber(getNum(m, "inFlight"))),
		kv("Accounts", formatNumber(getNum(m, "accounts"))),
		kv("Proxies", formatNumber(getNum(m, "proxies"))),
		kv("Chain ID", formatNumber(getNum(m, "chainId"))),
	)
	if id := getStr(m, "cycleId"); id != "" {
		lines += "\n" + joinLines(
			kv("Cycle", id),
			kv("Started", formatTime(getStr(m, "startedAt"))),
		)
	}
	if next := getStr(m, "nextRunAt"); next != "" {
		lines += "\n" + kv("Next Run", formatTime(next))
	}

	if cfg, ok := m["config"].(map[string]any); ok {
		lines += "\n\n" + configLines(cfg)
	}
	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	ready, _ := m["ready"].(bool)
	state := "READY"
	if !ready {
		state = "NOT READY"
	}

	lines := section("Activity Service Health: " + state)

	if checks, ok := m["checks"].([]any); ok {
		for _, c := range checks {
			if check, ok := c.(map[string]any); ok {
				line := fmt.Sprintf("  %-15s %s (%dms)", getStr(check, "name"), getStr(check, "status"), int64(getNum(check, "latency_ms")))
				if errMsg := getStr(check, "error"); errMsg != "" {
					line += " - " + errMsg
				}
				lines += "\n" + line
			}
		}
	}

	return lines
}

func formatWallets(raw json.RawMessage) string {
	var m struct {
		Wallets []map[string]any `json:"wallets"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing wallets: %v", err)
	}
	if len(m.Wallets) == 0 {
		return section("Wallets") + "\nNo accounts loaded."
	}

	lines := section("Wallets")
	for _, w := range m.Wallets {
		marker := ""
		if w["selected"] == true {
			marker = " (selected)"
		}
		lines += fmt.Sprintf("\n\n### Account %d%s\n", int(getNum(w, "index"))+1, marker)
		lines += kv("Address", getStr(w, "address"))
		if errMsg := getStr(w, "error"); errMsg != "" {
			lines += "\n" + kv("Error", errMsg)
			continue
		}
		lines += "\n" + kv("Native", getStr(w, "nativeBalance"))
		if tokens, ok := w["tokens"].([]any); ok {
			for _, t := range tokens {
				if tok, ok := t.(map[string]any); ok {
					lines += "\n" + kv(getStr(tok, "symbol"), getStr(tok, "balance"))
				}
			}
		}
	}
	return lines
}

func formatConfig(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing config: %v", err)
	}
	return configLines(m)
}

func configLines(m map[string]any) string {
	lines := joinLines(
		section("Daily Activity Config"),
		kv("Swap Repetitions", formatNumber(getNum(m, "swapRepetitions"))),
	)
	if xos, ok := m["xosSwapRange"].(map[string]any); ok {
		lines += "\n" + kv("XOS Range", rangeString(xos))
	}
	if ranges, ok := m["tokenSwapRanges"].(map[string]any); ok {
		symbols := make([]string, 0, len(ranges))
		for sym := range ranges {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			if r, ok := ranges[sym].(map[string]any); ok {
				lines += "\n" + kv(sym+" Range", rangeString(r))
			}
		}
	}
	return lines
}

func rangeString(r map[string]any) string {
	return fmt.Sprintf("%g - %g", getNum(r, "min"), getNum(r, "max"))
}

func formatCycles(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing history: %v", err)
	}

	lines := joinLines(
		section("Cycle History"),
		kv("Total Cycles", formatNumber(getNum(m, "total"))),
		"",
	)

	cycles, ok := m["cycles"].([]any)
	if !ok || len(cycles) == 0 {
		return lines + "\nNo cycles recorded."
	}

	for _, c := range cycles {
		cycle, ok := c.(map[string]any)
		if !ok {
			continue
		}
		succeeded := getNum(cycle, "succeeded")
		failed := getNum(cycle, "failed")
		skipped := getNum(cycle, "skipped")
		rate := 0.0
		if total := succeeded + failed + skipped; total > 0 {
			rate = succeeded / total * 100
		}

		lines += fmt.Sprintf("\n\n### %s\n", getStr(cycle, "id"))
		lines += joinLines(
			kv("Status", getStr(cycle, "status")),
			kv("Accounts", formatNumber(getNum(cycle, "accounts"))),
			kv("Succeeded", formatNumber(succeeded)),
			kv("Failed", formatNumber(failed)),
			kv("Skipped", formatNumber(skipped)),
			kv("Success Rate", formatPct(rate)),
			kv("Started", formatTime(getStr(cycle, "startedAt"))),
			kv("Completed", formatTime(getStr(cycle, "completedAt"))),
		)
	}
	return lines
}

func formatOperations(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing operations: %v", err)
	}

	lines := joinLines(
		section("Operations"),
		kv("Total", formatNumber(getNum(m, "total"))),
		"",
	)

	ops, ok := m["operations"].([]any)
	if !ok || len(ops) == 0 {
		return lines + "\nNo operations recorded."
	}

	lines += "\n"
	for _, o := range ops {
		op, ok := o.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("\n  [%d] %-15s %-8s %s", int64(getNum(op, "id")), getStr(op, "kind"), getStr(op, "status"), formatMs(getNum(op, "durationMs")))
		if dir := getStr(op, "direction"); dir != "" {
			line += fmt.Sprintf("  %s %s %s", dir, getStr(op, "amount"), getStr(op, "token"))
		}
		if h := getStr(op, "txHash"); h != "" {
			line += "  " + shortHash(h)
		}
		if e := getStr(op, "error"); e != "" {
			line += "  - " + e
		}
		lines += line
	}
	return lines
}

func formatOperationResult(title string, raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing result: %v", err)
	}
	return joinLines(
		section(title),
		kv("Account", getStr(m, "account")),
		kv("TX Hash", getStr(m, "txHash")),
		kv("Block", formatNumber(getNum(m, "blockNumber"))),
		kv("Gas Used", formatNumber(getNum(m, "gasUsed"))),
	)
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}
