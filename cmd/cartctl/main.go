// cartctl is a CLI for driving a running cartsyncd.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	cartctl get [-refresh]
//	cartctl add -product ID [-qty N] [-stock N]
//	cartctl inc -line ID [-product ID] [-stock N]
//	cartctl dec -line ID [-product ID]
//	cartctl set -line ID -qty N [-product ID] [-stock N]
//	cartctl rm -line ID [-product ID]
//	cartctl clear
//	cartctl avail -product ID [-stock N]
//	cartctl login -token TOKEN
//	cartctl logout
//	cartctl version
//
// Examples:
//
//	cartctl login -token "$SHOP_TOKEN"
//	cartctl add -product 60 -qty 2 -stock 10
//	LINE=$(cartctl get -q | head -1 | cut -f1)
//	cartctl inc -line $LINE
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	daemonURL string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "get":
		runGet(args)
	case "add":
		runAdd(args)
	case "inc":
		runLine("inc", args)
	case "dec":
		runLine("dec", args)
	case "set":
		runSet(args)
	case "rm":
		runLine("rm", args)
	case "clear":
		runClear(args)
	case "avail":
		runAvail(args)
	case "login":
		runLogin(args)
	case "logout":
		runLogout(args)
	case "version":
		runVersion(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cartctl - drive a local cartsyncd

Usage:
  cartctl <command> [options]

Commands:
  get      Show the cart
  add      Add units of a product
  inc      Add one unit to a line
  dec      Remove one unit from a line
  set      Set a line's quantity
  rm       Remove a line
  clear    Empty the cart
  avail    Show how many more units of a product fit
  login    Start a shopper session with a bearer token
  logout   End the shopper session
  version  Show client and daemon versions

Examples:
  cartctl login -token "$SHOP_TOKEN"
  cartctl add -product 60 -qty 2 -stock 10
  cartctl set -line 812 -qty 3
  cartctl avail -product 60 -stock 10

The daemon URL defaults to $CARTSYNC_URL, then http://localhost:8080.
Run 'cartctl <command> -h' for command-specific options.
`)
}

// newFlagSet registers the global flags on a command's flag set.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	defaultURL := os.Getenv("CARTSYNC_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	fs.StringVar(&daemonURL, "daemon", defaultURL, "cartsyncd base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - tab-separated output only")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cartctl %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func parse(fs *flag.FlagSet, args []string) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
	daemonURL = strings.TrimSuffix(daemonURL, "/")
}

// optionalStock returns nil for the "unknown" flag value.
func optionalStock(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runGet(args []string) {
	fs := newFlagSet("get", "[options]")
	var refresh bool
	fs.BoolVar(&refresh, "refresh", false, "Refetch from the cart service first")
	parse(fs, args)

	method, path := "GET", "/cart"
	if refresh {
		method, path = "POST", "/cart/refresh"
	}
	resp, err := doRequest(method, path, nil)
	if err != nil {
		fail("Failed to get cart", err)
	}
	printCart(resp)
}

func runAdd(args []string) {
	fs := newFlagSet("add", "-product ID [options]")
	var productID int64
	var quantity, stock int
	fs.Int64Var(&productID, "product", 0, "Product ID (required)")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	fs.IntVar(&stock, "stock", -1, "Product's total stock (-1 = unknown)")
	parse(fs, args)

	if productID <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/cart/items", map[string]interface{}{
		"product_id": productID,
		"quantity":   quantity,
		"stock":      optionalStock(stock),
	})
	if err != nil {
		fail("Failed to add product", err)
	}
	printSuccess("Added %d x product %d", quantity, productID)
	printCart(resp)
}

// runLine handles the single-line commands inc, dec and rm.
func runLine(cmd string, args []string) {
	fs := newFlagSet(cmd, "-line ID [options]")
	var lineID, productID int64
	var stock int
	fs.Int64Var(&lineID, "line", 0, "Cart line ID (required)")
	fs.Int64Var(&productID, "product", 0, "Product expected on the line (optional)")
	if cmd == "inc" {
		fs.IntVar(&stock, "stock", -1, "Product's total stock (-1 = unknown)")
	}
	parse(fs, args)

	if lineID <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	var (
		resp map[string]interface{}
		err  error
		path = fmt.Sprintf("/cart/lines/%d", lineID)
		body = map[string]interface{}{"product_id": productID}
	)
	switch cmd {
	case "inc":
		body["stock"] = optionalStock(stock)
		resp, err = doRequest("POST", path+"/increment", body)
	case "dec":
		resp, err = doRequest("POST", path+"/decrement", body)
	case "rm":
		if productID != 0 {
			path += fmt.Sprintf("?product_id=%d", productID)
		}
		resp, err = doRequest("DELETE", path, nil)
	}
	if err != nil {
		fail("Failed to update line", err)
	}
	printSuccess("Line %d updated", lineID)
	printCart(resp)
}

func runSet(args []string) {
	fs := newFlagSet("set", "-line ID -qty N [options]")
	var lineID, productID int64
	var quantity, stock int
	fs.Int64Var(&lineID, "line", 0, "Cart line ID (required)")
	fs.IntVar(&quantity, "qty", 0, "New quantity (required, at least 1)")
	fs.Int64Var(&productID, "product", 0, "Product expected on the line (optional)")
	fs.IntVar(&stock, "stock", -1, "Product's total stock (-1 = unknown)")
	parse(fs, args)

	if lineID <= 0 || quantity == 0 {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("PUT", fmt.Sprintf("/cart/lines/%d", lineID), map[string]interface{}{
		"quantity":   quantity,
		"product_id": productID,
		"stock":      optionalStock(stock),
	})
	if err != nil {
		fail("Failed to set quantity", err)
	}
	printSuccess("Line %d set to %d", lineID, quantity)
	printCart(resp)
}

func runClear(args []string) {
	fs := newFlagSet("clear", "[options]")
	parse(fs, args)

	resp, err := doRequest("DELETE", "/cart", nil)
	if err != nil {
		fail("Failed to empty cart", err)
	}
	printSuccess("Cart emptied")
	printCart(resp)
}

func runAvail(args []string) {
	fs := newFlagSet("avail", "-product ID [options]")
	var productID int64
	var stock int
	fs.Int64Var(&productID, "product", 0, "Product ID (required)")
	fs.IntVar(&stock, "stock", -1, "Product's total stock (-1 = unknown)")
	parse(fs, args)

	if productID <= 0 {
		fs.Usage()
		os.Exit(1)
	}

	path := fmt.Sprintf("/products/%d/availability", productID)
	if stock >= 0 {
		path += fmt.Sprintf("?stock=%d", stock)
	}
	resp, err := doRequest("GET", path, nil)
	if err != nil {
		fail("Failed to check availability", err)
	}

	inCart, _ := resp["in_cart"].(float64)
	available, _ := resp["available"].(float64)
	if quiet {
		fmt.Printf("%d\t%d\n", int(inCart), int(available))
		return
	}
	fmt.Printf("  Product %d: %s%d%s in cart, %s%d%s more available\n",
		productID, colorCyan, int(inCart), colorReset, colorGreen, int(available), colorReset)
}

// =============================================================================
// SESSION COMMANDS
// =============================================================================

func runLogin(args []string) {
	fs := newFlagSet("login", "-token TOKEN [options]")
	var token string
	fs.StringVar(&token, "token", os.Getenv("CART_TOKEN"), "Shopper bearer token (default $CART_TOKEN)")
	parse(fs, args)

	if token == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("PUT", "/session", map[string]string{"token": token})
	if err != nil {
		fail("Failed to start session", err)
	}
	expires, _ := resp["expires_at"].(string)
	if expires == "" {
		expires = "never"
	}
	printSuccess("Session started (expires %s)", expires)
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "[options]")
	parse(fs, args)

	if _, err := doRequest("DELETE", "/session", nil); err != nil {
		fail("Failed to end session", err)
	}
	printSuccess("Session ended")
}

func runVersion(args []string) {
	fs := newFlagSet("version", "[options]")
	parse(fs, args)

	fmt.Printf("cartctl   %s\n", version)

	resp, err := doRequest("GET", "/health", nil)
	if err != nil {
		fail("Failed to reach daemon", err)
	}
	daemonVersion, _ := resp["version"].(string)
	fmt.Printf("cartsyncd %s\n", daemonVersion)

	if err := checkCompatible(version, daemonVersion); err != nil {
		printWarning("%v", err)
		os.Exit(2)
	}
}

// =============================================================================
// HTTP
// =============================================================================

// apiError is a non-2xx response from the daemon.
type apiError struct {
	Status  int
	Code    string
	Message string
	Ceiling *int
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// parseAPIError decodes the daemon's {"error": {...}} body.
func parseAPIError(status int, body []byte) *apiError {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Ceiling *int   `json:"ceiling"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Error.Code == "" {
		return &apiError{Status: status, Message: strings.TrimSpace(string(body))}
	}
	return &apiError{
		Status:  status,
		Code:    payload.Error.Code,
		Message: payload.Error.Message,
		Ceiling: payload.Error.Ceiling,
	}
}

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, daemonURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if verbose {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if verbose {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}
	if resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

// printCart renders a cart view. In quiet mode each line is
// "line_id<TAB>product_id<TAB>quantity<TAB>subtotal".
func printCart(cart map[string]interface{}) {
	lines, _ := cart["lines"].([]interface{})
	currency, _ := cart["currency"].(string)
	total, _ := cart["total"].(string)

	if quiet {
		for _, l := range lines {
			lm, _ := l.(map[string]interface{})
			fmt.Printf("%v\t%v\t%v\t%v\n", lm["id"], lm["product_id"], lm["quantity"], lm["subtotal"])
		}
		return
	}

	if active, _ := cart["session_active"].(bool); !active {
		printWarning("No active session (run 'cartctl login')")
	}
	if len(lines) == 0 {
		fmt.Printf("  %sCart is empty%s\n", colorGray, colorReset)
		return
	}

	for _, l := range lines {
		lm, ok := l.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := lm["name"].(string)
		if name == "" {
			name = fmt.Sprintf("product %v", lm["product_id"])
		}
		pending := ""
		if p, _ := lm["pending"].(bool); p {
			pending = colorYellow + " (updating)" + colorReset
		}
		fmt.Printf("  %s[%v]%s %s%s%s x%v @ %v = %v%s\n",
			colorGray, lm["id"], colorReset,
			colorBold, name, colorReset,
			lm["quantity"], lm["unit_price"], lm["subtotal"], pending)
	}
	fmt.Printf("  %v line(s), total: %s%s %s%s\n", cart["line_count"], colorGreen, currency, total, colorReset)
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}
	fmt.Println(pretty.String())
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

// fail prints err (with the stock ceiling when the daemon reported one) and exits.
func fail(what string, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.Ceiling != nil {
		fmt.Fprintf(os.Stderr, "%s✗ %s: %s (%d more available)%s\n",
			colorRed, what, apiErr.Message, *apiErr.Ceiling, colorReset)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%s✗ %s: %v%s\n", colorRed, what, err, colorReset)
	os.Exit(1)
}
