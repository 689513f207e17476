// Command meshctl is the operator CLI for the gateway's HTTP surface: fleet
// roster management, chaos operations, and the scripted scenarios.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is meshctl's own configuration: where to find the gateway and how
// long to wait for it.
type Config struct {
	GatewayURL string `yaml:"gateway_url" mapstructure:"gateway_url"`
	Timeout    int    `yaml:"timeout" mapstructure:"timeout"`
}

// ScenarioScript is a YAML chaos-scenario script meshctl can replay: a
// named sequence of scenario invocations run in order, each with its own
// query-parameter set.
type ScenarioScript struct {
	Name  string `yaml:"name"`
	Steps []struct {
		Scenario string            `yaml:"scenario"` // split-brain-heal | bootstrap-converge
		Params   map[string]string `yaml:"params"`
	} `yaml:"steps"`
}

var cfg Config
var cfgFile string

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd := &cobra.Command{
		Use:   "meshctl",
		Short: "Operate the disaster-response telemetry mesh gateway",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.meshctl/config.yaml)")

	nodesCmd := &cobra.Command{Use: "nodes", Short: "Manage the fleet roster"}
	nodesCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List known nodes", Run: nodesList},
		&cobra.Command{Use: "create [node-id]", Short: "Create a node", Args: cobra.MaximumNArgs(1), Run: nodesCreate},
		&cobra.Command{Use: "delete <node-id>", Short: "Delete a node", Args: cobra.ExactArgs(1), Run: nodesDelete},
	)

	partitionCmd := &cobra.Command{Use: "partition", Short: "Manipulate gossip partitions"}
	partitionCmd.AddCommand(
		&cobra.Command{Use: "isolate <node-id>", Short: "Isolate one node", Args: cobra.ExactArgs(1), Run: partitionIsolate},
		&cobra.Command{Use: "heal <node-id>", Short: "Heal one node", Args: cobra.ExactArgs(1), Run: partitionHeal},
		&cobra.Command{Use: "split-brain", Short: "Split the fleet into two halves", Run: partitionSplitBrain},
		&cobra.Command{Use: "heal-all", Short: "Heal every node", Run: partitionHealAll},
	)

	scenarioCmd := &cobra.Command{Use: "scenario", Short: "Run scripted chaos scenarios"}
	splitBrainHealCmd := &cobra.Command{Use: "split-brain-heal", Short: "Run split-brain-then-heal", Run: scenarioSplitBrainHeal}
	splitBrainHealCmd.Flags().Int("isolate-seconds", 6, "seconds to stay partitioned")
	splitBrainHealCmd.Flags().Int("verify-polls", 2, "poll attempts while verifying convergence")
	bootstrapCmd := &cobra.Command{Use: "bootstrap-converge", Short: "Run bootstrap-converge", Run: scenarioBootstrapConverge}
	bootstrapCmd.Flags().Int("create-nodes", 3, "nodes to create")
	bootstrapCmd.Flags().Int("events-per-node", 5, "synthetic events per node")
	bootstrapCmd.Flags().Int("verify-polls", 5, "poll attempts while verifying convergence")
	runCmd := &cobra.Command{Use: "run <script.yaml>", Short: "Replay a YAML scenario script", Args: cobra.ExactArgs(1), Run: scenarioRun}
	scenarioCmd.AddCommand(splitBrainHealCmd, bootstrapCmd, runCmd)

	statusCmd := &cobra.Command{Use: "status", Short: "Show gateway status", Run: showStatus}

	rootCmd.AddCommand(nodesCmd, partitionCmd, scenarioCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(filepath.Join(home, ".meshctl"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetDefault("gateway_url", "http://127.0.0.1:8500")
	viper.SetDefault("timeout", 10)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode config: %v", err)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
}

func makeRequest(method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return httpClient().Do(req)
}

func printJSON(resp *http.Response) {
	defer resp.Body.Close()
	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		fmt.Println("(no body)")
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fatalOnError(resp *http.Response, err error, action string) {
	if err != nil {
		log.Fatalf("%s: %v", action, err)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Fatalf("%s failed (%d): %s", action, resp.StatusCode, string(body))
	}
}

func nodesList(cmd *cobra.Command, args []string) {
	resp, err := makeRequest(http.MethodGet, cfg.GatewayURL+"/nodes", nil)
	fatalOnError(resp, err, "list nodes")
	printJSON(resp)
}

func nodesCreate(cmd *cobra.Command, args []string) {
	url := cfg.GatewayURL + "/nodes"
	if len(args) == 1 {
		url += "?node_id=" + args[0]
	}
	resp, err := makeRequest(http.MethodPost, url, nil)
	fatalOnError(resp, err, "create node")
	printJSON(resp)
}

func nodesDelete(cmd *cobra.Command, args []string) {
	resp, err := makeRequest(http.MethodDelete, cfg.GatewayURL+"/nodes/"+args[0], nil)
	fatalOnError(resp, err, "delete node")
	fmt.Println("deleted", args[0])
}

func partitionIsolate(cmd *cobra.Command, args []string) {
	resp, err := makeRequest(http.MethodPost, cfg.GatewayURL+"/nodes/"+args[0]+"/partition", nil)
	fatalOnError(resp, err, "isolate node")
	printJSON(resp)
}

func partitionHeal(cmd *cobra.Command, args []string) {
	resp, err := makeRequest(http.MethodDelete, cfg.GatewayURL+"/nodes/"+args[0]+"/partition", nil)
	fatalOnError(resp, err, "heal node")
	printJSON(resp)
}

func partitionSplitBrain(cmd *cobra.Command, args []string) {
	resp, err := makeRequest(http.MethodPost, cfg.GatewayURL+"/partition/split-brain", nil)
	fatalOnError(resp, err, "split-brain")
	printJSON(resp)
}

func partitionHealAll(cmd *cobra.Command, args []string) {
	resp, err := makeRequest(http.MethodPost, cfg.GatewayURL+"/partition/heal-all", nil)
	fatalOnError(resp, err, "heal-all")
	printJSON(resp)
}

func scenarioSplitBrainHeal(cmd *cobra.Command, args []string) {
	isolateSeconds, _ := cmd.Flags().GetInt("isolate-seconds")
	verifyPolls, _ := cmd.Flags().GetInt("verify-polls")
	url := fmt.Sprintf("%s/scenarios/split-brain-heal?isolate_seconds=%d&verify_polls=%d", cfg.GatewayURL, isolateSeconds, verifyPolls)
	resp, err := makeRequest(http.MethodPost, url, nil)
	fatalOnError(resp, err, "split-brain-heal")
	printJSON(resp)
}

func scenarioBootstrapConverge(cmd *cobra.Command, args []string) {
	createNodes, _ := cmd.Flags().GetInt("create-nodes")
	eventsPerNode, _ := cmd.Flags().GetInt("events-per-node")
	verifyPolls, _ := cmd.Flags().GetInt("verify-polls")
	url := fmt.Sprintf("%s/scenarios/bootstrap-converge?create_nodes=%d&events_per_node=%d&verify_polls=%d", cfg.GatewayURL, createNodes, eventsPerNode, verifyPolls)
	resp, err := makeRequest(http.MethodPost, url, nil)
	fatalOnError(resp, err, "bootstrap-converge")
	printJSON(resp)
}

// scenarioRun replays a YAML scenario script: each step names a scenario
// and its query parameters, run in file order against the configured
// gateway, printing each step's structured result as it completes.
func scenarioRun(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		log.Fatalf("read script: %v", err)
	}
	var script ScenarioScript
	if err := yaml.Unmarshal(data, &script); err != nil {
		log.Fatalf("parse script: %v", err)
	}

	fmt.Printf("Running scenario script %q (%d steps)\n", script.Name, len(script.Steps))
	for i, step := range script.Steps {
		path := "/scenarios/" + step.Scenario
		url := cfg.GatewayURL + path + "?" + encodeParams(step.Params)
		fmt.Printf("[%d/%d] POST %s\n", i+1, len(script.Steps), url)
		resp, err := makeRequest(http.MethodPost, url, nil)
		fatalOnError(resp, err, step.Scenario)
		printJSON(resp)
	}
}

func encodeParams(params map[string]string) string {
	var buf bytes.Buffer
	first := true
	for k, v := range params {
		if !first {
			buf.WriteByte('&')
		}
		first = false
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(v)
	}
	return buf.String()
}

func showStatus(cmd *cobra.Command, args []string) {
	fmt.Println("Gateway Status")
	fmt.Println("==============")
	resp, err := makeRequest(http.MethodGet, cfg.GatewayURL+"/gateway/status", nil)
	fatalOnError(resp, err, "gateway status")
	printJSON(resp)
}
