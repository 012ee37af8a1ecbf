package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentFlows/sdk/go/agentflows"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var submission agentflows.RunSubmission
			_ = json.NewDecoder(r.Body).Decode(&submission)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(agentflows.Run{
				ID:        "run-demo",
				Goal:      submission.Goal,
				Status:    "pending",
				CreatedAt: time.Now().Unix(),
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentflows.Run{
			ID:     "run-demo",
			Status: "succeeded",
			Result: &agentflows.Result{
				Answer: "Paris is the capital of France.",
				Rounds: 2,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := agentflows.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := client.SubmitRun(ctx, agentflows.RunSubmission{Goal: "What is the capital of France?"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted run %s (status=%s)\n", run.ID, run.Status)

	final, err := client.WaitForRun(ctx, run.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished after %d rounds: %s\n", final.ID, final.Result.Rounds, final.Result.Answer)
}
