package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Rooms limits agents and moves to these room names. Empty means every room.
	Rooms []string `json:"rooms,omitempty"`
	// Flows requests FLOW messages whenever a cached flow field is (re)built.
	Flows bool `json:"flows,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	RunID           string      `json:"run_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	Rooms           []string    `json:"rooms"`
	Hubs            []HubInfo   `json:"hubs,omitempty"`
}

type WorldParams struct {
	TickRateHz int    `json:"tick_rate_hz"`
	RoomSize   int    `json:"room_size"`
	Seed       int64  `json:"seed"`
	Scenario   string `json:"scenario"`
}

type HubInfo struct {
	Key   string   `json:"key"`
	Room  string   `json:"room"`
	Tiles [][2]int `json:"tiles"`
	Range uint32   `json:"range"`
}

// Server -> Client. Sent once per room after SUBSCRIBE.
type RoomMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Room            string   `json:"room"`
	Rows            []string `json:"rows"`
}

// Server -> Client. Dirs is the RLE encoding (see sim/encoding) of one
// byte per tile, row-major: 0 for no direction, 1..8 clockwise from top.
type FlowMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Room            string `json:"room"`
	Key             string `json:"key"`
	Built           uint64 `json:"built"`
	Dirs            string `json:"dirs"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Agents    []AgentState `json:"agents"`
	Moves     []MoveInfo   `json:"moves,omitempty"`
	Crossings []MoveInfo   `json:"crossings,omitempty"`

	Stats TickStats `json:"stats"`
}

type AgentState struct {
	ID      string `json:"id"`
	Room    string `json:"room"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Fatigue int    `json:"fatigue,omitempty"`
	Task    string `json:"task,omitempty"`
	Target  string `json:"target,omitempty"`
	Path    string `json:"path,omitempty"`
}

type MoveInfo struct {
	AgentID string `json:"agent_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Dir     string `json:"dir,omitempty"`
	Source  string `json:"source,omitempty"`
}

type TickStats struct {
	Requests    int     `json:"requests"`
	Moves       int     `json:"moves"`
	Blocked     int     `json:"blocked"`
	Searches    int     `json:"searches"`
	ReplaySteps int     `json:"replay_steps"`
	FlowSteps   int     `json:"flow_steps"`
	Passes      int     `json:"passes"`
	StepMS      float64 `json:"step_ms"`
}
