// Package progress tracks live backup job progress in Redis so the UI can
// show which devices are currently being backed up.
//
// All mutations run as Lua scripts: multiple workers update the same
// execution's state concurrently and the read-modify-write cycle has to be
// atomic on the Redis side.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "netvault:job_progress:"

	// progressTTL bounds abandoned state; completionTTL keeps finished state
	// around just long enough for the UI to render the final screen.
	progressTTL   = time.Hour
	completionTTL = 5 * time.Minute

	// recentLimit bounds the recent_completed list.
	recentLimit = 10
)

var markActiveScript = redis.NewScript(`
local key = KEYS[1]
local device_json = ARGV[1]
local ttl = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('GET', key)
if not data then
    return 0
end

local progress = cjson.decode(data)
progress.active_devices[#progress.active_devices + 1] = cjson.decode(device_json)
progress.updated_at = now

redis.call('SETEX', key, ttl, cjson.encode(progress))
return 1
`)

var markCompletedScript = redis.NewScript(`
local key = KEYS[1]
local device_id = tonumber(ARGV[1])
local completed_json = ARGV[2]
local success = ARGV[3] == 'true'
local has_changed = ARGV[4] == 'true'
local ttl = tonumber(ARGV[5])
local now = tonumber(ARGV[6])

local data = redis.call('GET', key)
if not data then
    return 0
end

local progress = cjson.decode(data)

local new_active = {}
for i, device in ipairs(progress.active_devices) do
    if device.id ~= device_id then
        new_active[#new_active + 1] = device
    end
end
progress.active_devices = new_active

local completed = cjson.decode(completed_json)
table.insert(progress.recent_completed, 1, completed)
while #progress.recent_completed > ` + fmt.Sprint(recentLimit) + ` do
    table.remove(progress.recent_completed)
end

progress.completed_count = progress.completed_count + 1
if success then
    progress.success_count = progress.success_count + 1
    if has_changed then
        progress.changed_count = progress.changed_count + 1
    end
else
    progress.failed_count = progress.failed_count + 1
end

progress.updated_at = now

redis.call('SETEX', key, ttl, cjson.encode(progress))
return 1
`)

var markJobCompletedScript = redis.NewScript(`
local key = KEYS[1]
local status = ARGV[1]
local ttl = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('GET', key)
if not data then
    return 0
end

local progress = cjson.decode(data)
progress.status = status
progress.completed_at = now
progress.active_devices = {}
progress.updated_at = now

redis.call('SETEX', key, ttl, cjson.encode(progress))
return 1
`)

// ActiveDevice is a device currently being backed up.
type ActiveDevice struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	StartedAt float64 `json:"started_at"`
}

// CompletedDevice is one finished per-device attempt in the recent list.
type CompletedDevice struct {
	ID          uint    `json:"id"`
	Name        string  `json:"name"`
	Success     bool    `json:"success"`
	HasChanged  bool    `json:"has_changed"`
	Duration    float64 `json:"duration"`
	Error       string  `json:"error"`
	CompletedAt float64 `json:"completed_at"`
}

// activeList and completedList tolerate cjson's encoding of an empty Lua
// table as {} instead of [].
type activeList []ActiveDevice

func (l *activeList) UnmarshalJSON(data []byte) error {
	if isEmptyObject(data) {
		*l = activeList{}
		return nil
	}
	return json.Unmarshal(data, (*[]ActiveDevice)(l))
}

type completedList []CompletedDevice

func (l *completedList) UnmarshalJSON(data []byte) error {
	if isEmptyObject(data) {
		*l = completedList{}
		return nil
	}
	return json.Unmarshal(data, (*[]CompletedDevice)(l))
}

func isEmptyObject(data []byte) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal(data, &probe) == nil && len(probe) == 0
}

// State is the live progress of one job execution. Timestamps are Unix
// seconds with fraction.
type State struct {
	ExecutionID     uint          `json:"execution_id"`
	TotalDevices    int           `json:"total_devices"`
	Concurrency     int           `json:"concurrency"`
	StartedAt       float64       `json:"started_at"`
	ActiveDevices   activeList    `json:"active_devices"`
	RecentCompleted completedList `json:"recent_completed"`
	CompletedCount  int           `json:"completed_count"`
	SuccessCount    int           `json:"success_count"`
	FailedCount     int           `json:"failed_count"`
	ChangedCount    int           `json:"changed_count"`
	Status          string        `json:"status"`
	UpdatedAt       float64       `json:"updated_at"`
	CompletedAt     float64       `json:"completed_at,omitempty"`
}

// Tracker publishes job progress to Redis. A nil client disables tracking;
// every method degrades to a no-op so backup runs never depend on Redis
// being up.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func key(executionID uint) string {
	return fmt.Sprintf("%s%d", keyPrefix, executionID)
}

func unixNow() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Init seeds the progress state for a new execution.
func (t *Tracker) Init(ctx context.Context, executionID uint, totalDevices, concurrency int) bool {
	if t.client == nil {
		return false
	}

	now := unixNow()
	state := State{
		ExecutionID:     executionID,
		TotalDevices:    totalDevices,
		Concurrency:     concurrency,
		StartedAt:       now,
		ActiveDevices:   activeList{},
		RecentCompleted: completedList{},
		Status:          "running",
		UpdatedAt:       now,
	}
	data, err := json.Marshal(state)
	if err != nil {
		log.Printf("Progress: failed to encode state for execution %d: %v", executionID, err)
		return false
	}

	if err := t.client.Set(ctx, key(executionID), data, progressTTL).Err(); err != nil {
		log.Printf("Progress: failed to init progress for execution %d: %v", executionID, err)
		return false
	}
	return true
}

// MarkDeviceActive records that a worker started backing up a device.
func (t *Tracker) MarkDeviceActive(ctx context.Context, executionID, deviceID uint, deviceName string) bool {
	if t.client == nil {
		return false
	}

	now := unixNow()
	device, err := json.Marshal(ActiveDevice{ID: deviceID, Name: deviceName, StartedAt: now})
	if err != nil {
		return false
	}

	result, err := markActiveScript.Run(ctx, t.client,
		[]string{key(executionID)},
		string(device), int(progressTTL.Seconds()), now).Int()
	if err != nil {
		log.Printf("Progress: failed to mark device %d active: %v", deviceID, err)
		return false
	}
	return result == 1
}

// MarkDeviceCompleted records one finished per-device attempt and advances
// the counters atomically.
func (t *Tracker) MarkDeviceCompleted(ctx context.Context, executionID, deviceID uint, deviceName string, success, hasChanged bool, duration float64, errMsg string) bool {
	if t.client == nil {
		return false
	}

	if len(errMsg) > 100 {
		errMsg = errMsg[:100]
	}
	now := unixNow()
	completed, err := json.Marshal(CompletedDevice{
		ID:          deviceID,
		Name:        deviceName,
		Success:     success,
		HasChanged:  hasChanged,
		Duration:    duration,
		Error:       errMsg,
		CompletedAt: now,
	})
	if err != nil {
		return false
	}

	result, err := markCompletedScript.Run(ctx, t.client,
		[]string{key(executionID)},
		deviceID,
		string(completed),
		fmt.Sprint(success),
		fmt.Sprint(hasChanged),
		int(progressTTL.Seconds()),
		now).Int()
	if err != nil {
		log.Printf("Progress: failed to mark device %d completed: %v", deviceID, err)
		return false
	}
	return result == 1
}

// MarkJobCompleted sets the terminal status, clears the active list and
// shrinks the TTL to the short post-completion window.
func (t *Tracker) MarkJobCompleted(ctx context.Context, executionID uint, status string) bool {
	if t.client == nil {
		return false
	}

	result, err := markJobCompletedScript.Run(ctx, t.client,
		[]string{key(executionID)},
		status, int(completionTTL.Seconds()), unixNow()).Int()
	if err != nil {
		log.Printf("Progress: failed to mark execution %d completed: %v", executionID, err)
		return false
	}
	return result == 1
}

// Get returns the live state, or (nil, nil) when there is no state for the
// execution (expired, never started, or Redis disabled).
func (t *Tracker) Get(ctx context.Context, executionID uint) (*State, error) {
	if t.client == nil {
		return nil, nil
	}

	data, err := t.client.Get(ctx, key(executionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress for execution %d: %w", executionID, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode progress for execution %d: %w", executionID, err)
	}
	return &state, nil
}

// Cleanup removes the state for an execution.
func (t *Tracker) Cleanup(ctx context.Context, executionID uint) {
	if t.client == nil {
		return
	}
	if err := t.client.Del(ctx, key(executionID)).Err(); err != nil {
		log.Printf("Progress: failed to clean up execution %d: %v", executionID, err)
	}
}
