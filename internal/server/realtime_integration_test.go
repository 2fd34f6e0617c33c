package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
)

func TestRealtimeStreamEmitsConfigChangeEvents(t *testing.T) {
	fixture := newRouterFixture(t)
	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/api/v1/configs/events?category=feature_flags", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamRequest.Header.Set("Authorization", "Bearer "+fixture.token)
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if contentType := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected stream content type: %q", contentType)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fixture.realtime.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	streamReader := bufio.NewReader(streamResp.Body)

	payload := `{"fields":{"beta":true,"rollout":25}}`
	updateReq, err := http.NewRequest(http.MethodPost, server.URL+"/api/v1/configs/feature_flags", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("failed to construct update request: %v", err)
	}
	updateReq.Header.Set("Authorization", "Bearer "+fixture.token)
	updateReq.Header.Set("Content-Type", "application/json")
	updateResp, err := http.DefaultClient.Do(updateReq)
	if err != nil {
		t.Fatalf("update request failed: %v", err)
	}
	var updatePayload struct {
		Snapshot struct {
			ID string `json:"id"`
		} `json:"snapshot"`
	}
	if err := json.NewDecoder(updateResp.Body).Decode(&updatePayload); err != nil {
		t.Fatalf("failed to decode update response: %v", err)
	}
	_ = updateResp.Body.Close()
	if updateResp.StatusCode != http.StatusOK || updatePayload.Snapshot.ID == "" {
		t.Fatalf("unexpected update response: %d %#v", updateResp.StatusCode, updatePayload)
	}

	type eventPayload struct {
		Category    string   `json:"category"`
		SnapshotIDs []string `json:"snapshot_ids"`
	}

	currentEventType := ""
	timeout := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != configs.EventConfigChanged {
				continue
			}
			dataJSON := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var event eventPayload
			if err := json.Unmarshal([]byte(dataJSON), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.Category != "feature_flags" || len(event.SnapshotIDs) != 1 || event.SnapshotIDs[0] != updatePayload.Snapshot.ID {
				t.Fatalf("unexpected change event: %#v", event)
			}
			return
		}
	}
}

func TestRealtimeStreamRejectsUnknownCategory(t *testing.T) {
	fixture := newRouterFixture(t)
	recorder := fixture.do(t, http.MethodGet, "/api/v1/configs/events?category=payments", nil, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected unknown category to be rejected, got %d", recorder.Code)
	}
}

func TestRealtimeStreamSendsHeartbeats(t *testing.T) {
	fixture := newRouterFixture(t)
	server := httptest.NewServer(fixture.handler)
	t.Cleanup(server.Close)

	request, err := http.NewRequest(http.MethodGet, server.URL+"/api/v1/configs/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	request.AddCookie(&http.Cookie{Name: testCookieName, Value: fixture.token})
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(response.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case <-timeout:
			t.Fatal("timed out waiting for heartbeat")
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before heartbeat")
			}
			if line == "event:"+realtimeEventHeartbeat {
				return
			}
		}
	}
}
