package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"DeFiIntent-Chain/sdk/go/intentd"
)

func main() {
	baseURL := os.Getenv("INTENTD_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	client, err := intentd.NewClient(baseURL, nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}
	client.SetAPIKey(os.Getenv("INTENTD_API_KEY"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.Parse(ctx, intentd.Request{
		SessionID: "demo",
		Text:      "swap 1 ETH for USDC on uniswap",
		Balances:  map[string]float64{"ETH": 2},
	})
	if err != nil {
		log.Fatalf("parse: %v", err)
	}
	fmt.Printf("state=%s\n", result.State)
	if cmd := result.Command(); cmd != nil {
		fmt.Printf("action=%s risk=%s confirm=%t\n", cmd.Action, cmd.RiskLevel, cmd.ConfirmationRequired)
	}

	turn, err := client.SubmitTurn(ctx, intentd.Request{SessionID: "demo", Text: "stake 1 ETH with lido"})
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	finished, err := client.WaitForTurn(ctx, turn.ID, time.Second)
	if err != nil {
		log.Fatalf("wait: %v", err)
	}
	fmt.Printf("turn %s finished with status %s\n", finished.ID, finished.Status)
}
