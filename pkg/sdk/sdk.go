package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const CTJSON string = "application/json"

type SDK interface {
	// Status returns the state of the current or last training session.
	//
	// example:
	//  status, _ := sdk.Status()
	//  fmt.Println(status.CurrentRound)
	Status() (SessionStatus, error)

	// RoundHistory returns up to limit of the most recent rounds in
	// ascending order.
	//
	// example:
	//  rounds, _ := sdk.RoundHistory(10)
	//  fmt.Println(rounds.Total)
	RoundHistory(limit uint64) (RoundPage, error)

	// Round returns a single round with per-participant outcomes.
	//
	// example:
	//  r, _ := sdk.Round(3)
	//  fmt.Println(r.Status)
	Round(number uint64) (Round, error)

	// Summary returns loss statistics over completed rounds.
	Summary() (Summary, error)

	// Participants lists registered participants.
	Participants() (ParticipantPage, error)

	// RegisterParticipant registers or refreshes a participant.
	//
	// example:
	//  p, _ := sdk.RegisterParticipant("hospital-a", "http://10.0.0.5:9090")
	//  fmt.Println(p.Available)
	RegisterParticipant(id, endpoint string) (Participant, error)

	// DeregisterParticipant marks a participant unavailable.
	DeregisterParticipant(id string) error

	// StartSession starts a training session in the background.
	//
	// example:
	//  status, _ := sdk.StartSession(sdk.SessionRequest{NumRounds: 10, Resume: true})
	//  fmt.Println(status.SessionID)
	StartSession(req SessionRequest) (SessionStatus, error)

	// AbortSession cancels the running session.
	AbortSession() error

	// Checkpoints lists stored model checkpoints.
	Checkpoints() ([]Checkpoint, error)
}

type SessionStatus struct {
	SessionID       string    `json:"session_id,omitempty"`
	Name            string    `json:"name,omitempty"`
	CurrentRound    uint64    `json:"current_round"`
	TotalRounds     uint64    `json:"total_rounds"`
	CompletedRounds uint64    `json:"completed_rounds"`
	IsRunning       bool      `json:"is_running"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

type SessionRequest struct {
	Name      string `json:"name,omitempty"`
	NumRounds uint64 `json:"num_rounds,omitempty"`
	Resume    bool   `json:"resume,omitempty"`
}

type Outcome struct {
	ParticipantID string             `json:"participant_id"`
	Phase         string             `json:"phase"`
	SampleCount   int64              `json:"sample_count,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Error         string             `json:"error,omitempty"`
	Duration      time.Duration      `json:"duration"`
}

type Round struct {
	Number       uint64             `json:"round_number"`
	SessionID    string             `json:"session_id,omitempty"`
	Status       string             `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at,omitzero"`
	Invited      []string           `json:"invited,omitempty"`
	Responded    []string           `json:"responded,omitempty"`
	Evaluated    []string           `json:"evaluated,omitempty"`
	Participants []Outcome          `json:"participants,omitempty"`
	FitMetrics   map[string]float64 `json:"fit_metrics,omitempty"`
	EvalMetrics  map[string]float64 `json:"eval_metrics,omitempty"`
	Error        string             `json:"error,omitempty"`
}

type RoundPage struct {
	Total  int     `json:"total"`
	Rounds []Round `json:"rounds"`
}

type Summary struct {
	TotalRounds     uint64   `json:"total_rounds"`
	CompletedRounds uint64   `json:"completed_rounds"`
	FailedRounds    uint64   `json:"failed_rounds"`
	AverageLoss     *float64 `json:"average_loss,omitempty"`
	MinLoss         *float64 `json:"min_loss,omitempty"`
	MaxLoss         *float64 `json:"max_loss,omitempty"`
	LatestRound     uint64   `json:"latest_round,omitempty"`
	LatestLoss      *float64 `json:"latest_loss,omitempty"`
}

type Participant struct {
	ID           string    `json:"id"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Available    bool      `json:"available"`
	LastSeen     time.Time `json:"last_seen"`
	RegisteredAt time.Time `json:"registered_at"`
}

type ParticipantPage struct {
	Total        int           `json:"total"`
	Participants []Participant `json:"participants"`
}

type Checkpoint struct {
	Round     uint64    `json:"round_number"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Active    bool      `json:"active"`
}

type flSDK struct {
	coordinatorURL string
	client         *http.Client
}

type Config struct {
	CoordinatorURL  string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &flSDK{
		coordinatorURL: cfg.CoordinatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *flSDK) Status() (SessionStatus, error) {
	var s SessionStatus
	err := sdk.getJSON(sdk.coordinatorURL+"/status", &s)

	return s, err
}

func (sdk *flSDK) RoundHistory(limit uint64) (RoundPage, error) {
	var page RoundPage
	err := sdk.getJSON(sdk.coordinatorURL+"/rounds?limit="+strconv.FormatUint(limit, 10), &page)

	return page, err
}

func (sdk *flSDK) Round(number uint64) (Round, error) {
	var r Round
	err := sdk.getJSON(sdk.coordinatorURL+"/rounds/"+strconv.FormatUint(number, 10), &r)

	return r, err
}

func (sdk *flSDK) Summary() (Summary, error) {
	var s Summary
	err := sdk.getJSON(sdk.coordinatorURL+"/summary", &s)

	return s, err
}

func (sdk *flSDK) Participants() (ParticipantPage, error) {
	var page ParticipantPage
	err := sdk.getJSON(sdk.coordinatorURL+"/participants", &page)

	return page, err
}

func (sdk *flSDK) RegisterParticipant(id, endpoint string) (Participant, error) {
	data, err := json.Marshal(map[string]string{"id": id, "endpoint": endpoint})
	if err != nil {
		return Participant{}, err
	}
	body, err := sdk.processRequest(http.MethodPost, sdk.coordinatorURL+"/participants", data, http.StatusCreated)
	if err != nil {
		return Participant{}, err
	}

	var p Participant
	if err := json.Unmarshal(body, &p); err != nil {
		return Participant{}, err
	}

	return p, nil
}

func (sdk *flSDK) DeregisterParticipant(id string) error {
	_, err := sdk.processRequest(http.MethodDelete, sdk.coordinatorURL+"/participants/"+id, nil, http.StatusNoContent)

	return err
}

func (sdk *flSDK) StartSession(req SessionRequest) (SessionStatus, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return SessionStatus{}, err
	}
	body, err := sdk.processRequest(http.MethodPost, sdk.coordinatorURL+"/sessions", data, http.StatusAccepted)
	if err != nil {
		return SessionStatus{}, err
	}

	var s SessionStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return SessionStatus{}, err
	}

	return s, nil
}

func (sdk *flSDK) AbortSession() error {
	_, err := sdk.processRequest(http.MethodPost, sdk.coordinatorURL+"/sessions/abort", nil, http.StatusNoContent)

	return err
}

func (sdk *flSDK) Checkpoints() ([]Checkpoint, error) {
	var res struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	err := sdk.getJSON(sdk.coordinatorURL+"/checkpoints", &res)

	return res.Checkpoints, err
}

func (sdk *flSDK) getJSON(reqURL string, out any) error {
	body, err := sdk.processRequest(http.MethodGet, reqURL, nil, http.StatusOK)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, out)
}

func (sdk *flSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return []byte{}, fmt.Errorf("unexpected response code: %d: %s", resp.StatusCode, e.Error)
		}

		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
