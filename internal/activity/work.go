package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/flow"
	"github.com/DoyleJ11/beat-escape-backend/internal/puzzle"
	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/pkg/types"
)

const workTimeout = 10 * time.Second

// WorkSaver is the learner's persistent work page.
type WorkSaver interface {
	SaveWork(ctx context.Context, activityID string, rec types.WorkRecord) error
}

type TriggerKind string

const (
	TriggerStageChange TriggerKind = "stageChange"
	TriggerSessionEnd  TriggerKind = "sessionEnd"
)

// Trigger is an event from the hosting lesson session. Each ID is acted on
// once; the host may fire the same trigger repeatedly.
type Trigger struct {
	ID   string
	Kind TriggerKind
}

type workData struct {
	RoomCode    string               `json:"roomCode,omitempty"`
	Mode        room.Mode            `json:"mode"`
	Phase       flow.Phase           `json:"phase"`
	PlayerIndex int                  `json:"playerIndex"`
	Locks       int                  `json:"locks"`
	Completed   []int                `json:"completed"`
	Patterns    map[int]room.Pattern `json:"patterns,omitempty"`
	Scores      map[int]int          `json:"scores,omitempty"`
	Summary     *puzzle.Summary      `json:"summary,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// activityID is stable per room so repeated saves update one record.
func (o *Orchestrator) activityID() string {
	if o.state.RoomCode == "" {
		return o.cfg.ActivityIDPrefix
	}
	return o.cfg.ActivityIDPrefix + "-" + o.state.RoomCode
}

// workRecord snapshots current progress. Callers hold o.mu.
func (o *Orchestrator) workRecord(reason string) types.WorkRecord {
	r := o.room
	data := workData{
		RoomCode:    o.state.RoomCode,
		Mode:        o.state.Mode,
		Phase:       o.state.Phase,
		PlayerIndex: o.state.PlayerIndex,
		Locks:       r.Mode.TotalLocks(),
		Completed:   r.CompletedLocks(),
		Reason:      reason,
	}
	subtitle := fmt.Sprintf("%d of %d locks", len(data.Completed), data.Locks)

	if o.state.Phase != flow.PhaseCreate || o.state.Mode == room.ModeSolo {
		data.Patterns = r.Clone().Patterns
	}
	if o.playing {
		sum := o.play.Summary()
		data.Scores = o.play.Scores
		data.Summary = &sum
		if o.play.Done() {
			subtitle = fmt.Sprintf("%d%% %s", sum.Percentage, sum.Rating.Label)
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		o.log.Warn("encoding work data", zap.Error(err))
	}
	route := "/beat-escape"
	if o.state.RoomCode != "" {
		route += "/" + o.state.RoomCode
	}
	return types.WorkRecord{
		Title:     title(o.cfg.Theme),
		ViewRoute: route,
		Subtitle:  subtitle,
		Data:      raw,
	}
}

func title(theme string) string {
	if theme == "" {
		return "Beat Escape Room"
	}
	return "Beat Escape Room: " + theme
}

// saveWorkAsync is fire-and-forget; failures are logged only. Callers hold o.mu.
func (o *Orchestrator) saveWorkAsync(reason string) {
	if o.work == nil {
		return
	}
	id, rec := o.activityID(), o.workRecord(reason)
	go func() {
		if err := o.saveWork(id, rec); err != nil {
			o.log.Warn("saving work record", zap.String("activityId", id), zap.String("reason", reason), zap.Error(err))
		}
	}()
}

func (o *Orchestrator) saveWork(id string, rec types.WorkRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), workTimeout)
	defer cancel()
	return o.work.SaveWork(ctx, id, rec)
}
