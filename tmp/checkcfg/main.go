package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"chaseline/internal/config"
	"chaseline/internal/db"
	"chaseline/internal/engine"
	"chaseline/internal/migrate"
	"chaseline/internal/server"
)

func main() {
	workspace := "/tmp/chaseline-check1"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default()
	e := engine.New(conn, cfg)
	o := engine.NewOrchestrator(e, nil)
	h, err := server.New(server.Config{Engine: e, Orchestrator: o, BasePath: "/v0", Auth: server.AuthConfig{AllowAnonymous: true}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	cl, err := post(ts.URL+"/v0/clients", map[string]any{
		"name":  "Jane Doe",
		"email": "jane@example.com",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("client=%v\n", cl)

	ch, err := post(ts.URL+"/v0/chases", map[string]any{
		"client_id":   cl["id"],
		"type":        "loa",
		"provider_id": "aviva",
		"priority":    "high",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("chase=%v\n", ch)

	stats, err := o.Tick(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Printf("tick due=%d processed=%d\n", stats.Due, stats.Processed)
}

func post(url string, body map[string]any) (map[string]any, error) {
	b, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("status=%d resp=%v", res.StatusCode, resp)
	}
	return resp, nil
}
