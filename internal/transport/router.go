package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainreview/core/internal/apperr"
	"github.com/chainreview/core/internal/orchestrator"
	"github.com/chainreview/core/internal/run"
	"github.com/chainreview/core/pkg/protocol"
)

const (
	shortDeadline = 120 * time.Second
	longDeadline  = 600 * time.Second
)

// Router dispatches inbound primary-stream requests to the Orchestrator and
// Run Store. One goroutine reads stdin and calls Dispatch per frame — that
// is the router's single dispatch thread — but long-running methods hand
// off to their own task immediately so a concurrent review.cancel is never
// stuck behind a review.run. Generalizes the teacher's gateway.MethodRouter
// (internal/gateway/server.go) from a WebSocket dispatcher to a stdio one.
type Router struct {
	Orch    *orchestrator.Orchestrator
	Store   *run.Store
	Primary *FrameWriter

	pendingMu sync.Mutex
	pending   map[string]*pendingReviewRun // keyed by run_id
}

// sentinelGate emits the sentinel side-stream event for one long-running
// request exactly once, ahead of that request's primary-stream response,
// satisfying spec §4.1's ordering guarantee. The router's normal path is
// explicit: done() is called once the orchestrator call — and therefore
// every side-stream event it synchronously published along the way — has
// returned. A background backstop additionally fires if the request's own
// context is cancelled or times out before that explicit signal arrives,
// so a host that's waiting on the sentinel is never left hanging. A flat
// time-since-launch timer (the literal "150ms" described in spec.md §9's
// open question) is deliberately not used here: real reviews routinely run
// for seconds, so a 150ms timer would fire — and thus emit the sentinel —
// while streaming was still very much in progress, which would violate
// rather than satisfy the ordering guarantee it exists to protect.
type sentinelGate struct {
	once sync.Once
	fire func()
}

func newSentinelGate(ctx context.Context, fire func()) *sentinelGate {
	g := &sentinelGate{fire: fire}
	go func() {
		<-ctx.Done()
		g.once.Do(fire)
	}()
	return g
}

// done is the explicit completion path.
func (g *sentinelGate) done() {
	g.once.Do(g.fire)
}

// armSentinel starts a sentinelGate for req if its method has a sentinel
// type, otherwise returns nil (non-streaming methods have none).
func (rt *Router) armSentinel(ctx context.Context, req protocol.Request, runID string) *sentinelGate {
	sentType := protocol.SentinelType(req.Method)
	if sentType == "" {
		return nil
	}
	return newSentinelGate(ctx, func() {
		rt.Orch.Bus.Publish(sentType, protocol.SentinelEvent{RequestID: req.ID, RunID: runID})
	})
}

// emitSentinelNow publishes req's sentinel immediately. Used by the
// synchronous long-running handlers (validate_finding, chat.query), which
// have already returned — and therefore already published every
// side-stream event they're going to — by the time this is called, so no
// backstop timer is needed.
func (rt *Router) emitSentinelNow(req protocol.Request, runID string) {
	sentType := protocol.SentinelType(req.Method)
	if sentType == "" {
		return
	}
	rt.Orch.Bus.Publish(sentType, protocol.SentinelEvent{RequestID: req.ID, RunID: runID})
}

func validateFindingRunID(req protocol.Request) string {
	var p validateFindingParams
	_ = json.Unmarshal(req.Params, &p)
	return p.RunID
}

func chatQueryRunID(req protocol.Request) string {
	var p chatQueryParams
	_ = json.Unmarshal(req.Params, &p)
	return p.RunID
}

// pendingReviewRun tracks a review.run request still awaiting its response,
// so review.cancel can close it early. once guards against both the
// background completion goroutine and a concurrent cancel racing to
// respond to the same request id.
type pendingReviewRun struct {
	reqID int64
	once  sync.Once
}

func NewRouter(orch *orchestrator.Orchestrator, store *run.Store, primary *FrameWriter) *Router {
	return &Router{Orch: orch, Store: store, Primary: primary, pending: make(map[string]*pendingReviewRun)}
}

// Dispatch handles one inbound request. Long-running methods (per
// protocol.IsLongRunning) spawn their own goroutine; everything else runs
// inline on the caller, which is the router's dispatch thread.
func (rt *Router) Dispatch(req protocol.Request) {
	if protocol.IsLongRunning(req.Method) {
		go rt.handleLongRunning(req)
		return
	}
	rt.handleShort(req)
}

func (rt *Router) handleShort(req protocol.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), shortDeadline)
	defer cancel()
	result, err := rt.dispatchShort(ctx, req)
	rt.finish(req.ID, result, err, ctx)
}

func (rt *Router) handleLongRunning(req protocol.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), longDeadline)
	switch req.Method {
	case protocol.MethodReviewRun:
		// reviewRun owns cancel: it fires once the background run
		// converges or the deadline trips, whichever first closes the
		// response.
		rt.reviewRun(ctx, cancel, req)
	case protocol.MethodReviewValidateFinding:
		defer cancel()
		result, err := rt.validateFinding(ctx, req)
		rt.emitSentinelNow(req, validateFindingRunID(req))
		rt.finish(req.ID, result, err, ctx)
	case protocol.MethodChatQuery:
		defer cancel()
		result, err := rt.chatQuery(ctx, req)
		rt.emitSentinelNow(req, chatQueryRunID(req))
		rt.finish(req.ID, result, err, ctx)
	default:
		cancel()
		rt.respond(req.ID, nil, apperr.Wrap(apperr.Internal, "unroutable long-running method %q", req.Method))
	}
}

func (rt *Router) finish(id int64, result interface{}, err error, ctx context.Context) {
	if err == nil && ctx.Err() == context.DeadlineExceeded {
		err = apperr.Wrap(apperr.Timeout, "deadline exceeded")
	}
	rt.respond(id, result, err)
}

func (rt *Router) respond(id int64, result interface{}, err error) {
	var resp *protocol.Response
	if err != nil {
		resp = protocol.NewErrorResponse(id, apperr.Code(err), err.Error())
	} else {
		var merr error
		resp, merr = protocol.NewResultResponse(id, result)
		if merr != nil {
			resp = protocol.NewErrorResponse(id, protocol.CodeInternal, merr.Error())
		}
	}
	if werr := rt.Primary.Write(resp); werr != nil {
		slog.Error("transport.router.write_failed", "error", werr)
	}
}

func (rt *Router) dispatchShort(ctx context.Context, req protocol.Request) (interface{}, error) {
	switch req.Method {
	case protocol.MethodReviewCancel:
		return rt.reviewCancel(req)
	case protocol.MethodReviewGetFindings:
		return rt.withRun(req, func(r *run.Run) (interface{}, error) { return r.Findings(), nil })
	case protocol.MethodReviewGetEvents:
		return rt.withRun(req, func(r *run.Run) (interface{}, error) { return r.Events(), nil })
	case protocol.MethodReviewGetChatMsgs:
		return rt.withRun(req, func(r *run.Run) (interface{}, error) { return r.ChatTranscript(), nil })
	case protocol.MethodReviewListRuns:
		return rt.listRuns(req)
	case protocol.MethodReviewDeleteRun:
		return rt.deleteRun(req)
	case protocol.MethodReviewRecordEvent:
		return rt.recordEvent(req)
	case protocol.MethodReviewSaveChatMsgs:
		return rt.saveChatMessages(req)
	case protocol.MethodPatchPropose, protocol.MethodPatchValidate, protocol.MethodPatchApply:
		return rt.patchTool(ctx, req)
	case protocol.MethodPatchGenerate:
		return rt.patchGenerate(ctx, req)
	case protocol.MethodRepoOpen, protocol.MethodRepoTree, protocol.MethodRepoFile:
		return rt.repoTool(ctx, req)
	default:
		return nil, apperr.Wrap(apperr.Internal, "unknown method %q", req.Method)
	}
}

// --- review.run / review.cancel ---

type reviewRunParams struct {
	RepoRoot        string   `json:"repo_root"`
	Mode            string   `json:"mode"`
	Agents          []string `json:"agents"`
	CredentialsMode string   `json:"credentials_mode"`
}

type reviewRunResult struct {
	RunID    string          `json:"run_id"`
	Status   run.Status      `json:"status"`
	Findings []run.Finding   `json:"findings"`
	Events   []run.AuditEvent `json:"events"`
	Error    string          `json:"error,omitempty"`
}

func reviewRunResultFrom(r *run.Run, statusOverride ...run.Status) reviewRunResult {
	status := r.Status()
	if len(statusOverride) > 0 {
		status = statusOverride[0]
	}
	return reviewRunResult{RunID: r.ID, Status: status, Findings: r.Findings(), Events: r.Events(), Error: r.ErrorReason()}
}

func (rt *Router) reviewRun(ctx context.Context, cancel context.CancelFunc, req protocol.Request) {
	var p reviewRunParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		cancel()
		rt.respond(req.ID, nil, apperr.Wrap(apperr.ToolArgs, "review.run: %v", err))
		return
	}
	mode := run.Mode(p.Mode)
	if mode == "" {
		mode = run.ModeRepo
	}
	creds := run.CredentialsMode(p.CredentialsMode)
	if creds == "" {
		creds = run.CredentialsBYOK
	}

	r, done, err := rt.Orch.StartReview(ctx, p.RepoRoot, mode, p.Agents, creds)
	if err != nil {
		cancel()
		rt.respond(req.ID, nil, err)
		return
	}

	pc := &pendingReviewRun{reqID: req.ID}
	rt.pendingMu.Lock()
	rt.pending[r.ID] = pc
	rt.pendingMu.Unlock()
	sentinel := rt.armSentinel(ctx, req, r.ID)

	go func() {
		defer cancel()
		var timedOut bool
		select {
		case <-done:
		case <-ctx.Done():
			timedOut = ctx.Err() == context.DeadlineExceeded
		}
		rt.pendingMu.Lock()
		delete(rt.pending, r.ID)
		rt.pendingMu.Unlock()
		if sentinel != nil {
			sentinel.done()
		}
		pc.once.Do(func() {
			if timedOut {
				rt.respond(req.ID, nil, apperr.Wrap(apperr.Timeout, "review.run: deadline exceeded"))
				return
			}
			rt.respond(req.ID, reviewRunResultFrom(r), nil)
		})
	}()
}

type reviewCancelParams struct {
	RunID string `json:"run_id"`
}

// reviewCancel implements the ordering spec §4.7 requires: close the
// waiting review.run response first (with a synthesized cancelled result,
// since the background agents may take a moment longer to actually
// converge), then trip the run's cancellation signal as fire-and-forget.
func (rt *Router) reviewCancel(req protocol.Request) (interface{}, error) {
	var p reviewCancelParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "review.cancel: %v", err)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}

	rt.pendingMu.Lock()
	pc := rt.pending[p.RunID]
	rt.pendingMu.Unlock()

	if pc != nil {
		pc.once.Do(func() {
			rt.respond(pc.reqID, reviewRunResultFrom(r, run.StatusCancelled), nil)
		})
	}
	rt.Orch.Cancel(r)

	return map[string]string{"run_id": p.RunID, "status": "cancelled"}, nil
}

// --- plain run-store reads/writes ---

type runIDParams struct {
	RunID string `json:"run_id"`
}

func (rt *Router) withRun(req protocol.Request, fn func(*run.Run) (interface{}, error)) (interface{}, error) {
	var p runIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "%s: %v", req.Method, err)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}
	return fn(r)
}

type listRunsParams struct {
	Limit int `json:"limit"`
}

func (rt *Router) listRuns(req protocol.Request) (interface{}, error) {
	var p listRunsParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, apperr.Wrap(apperr.ToolArgs, "review.list_runs: %v", err)
		}
	}
	runs := rt.Store.List(p.Limit)
	out := make([]reviewRunResult, len(runs))
	for i, r := range runs {
		out[i] = reviewRunResultFrom(r)
	}
	return out, nil
}

func (rt *Router) deleteRun(req protocol.Request) (interface{}, error) {
	var p runIDParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "review.delete_run: %v", err)
	}
	if err := rt.Store.Delete(p.RunID); err != nil {
		return nil, err
	}
	return map[string]string{"run_id": p.RunID}, nil
}

type recordEventParams struct {
	RunID string      `json:"run_id"`
	Type  string      `json:"type"`
	Agent string      `json:"agent"`
	Data  interface{} `json:"data"`
}

// recordEvent lets a host record a human-originated audit event (accept,
// reject, mark-false-positive) against an existing run's append-only log.
func (rt *Router) recordEvent(req protocol.Request) (interface{}, error) {
	var p recordEventParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "review.record_event: %v", err)
	}
	if !protocol.IsAuditEventType(p.Type) {
		return nil, apperr.Wrap(apperr.ToolArgs, "review.record_event: unknown type %q", p.Type)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}
	ev := r.AppendEvent(run.AuditEvent{
		ID: "evt_" + uuid.NewString(), RunID: p.RunID, Type: p.Type, Agent: run.AgentName(p.Agent), Data: p.Data,
	})
	return ev, nil
}

type saveChatParams struct {
	RunID    string           `json:"run_id"`
	Messages []run.ChatMessage `json:"messages"`
}

func (rt *Router) saveChatMessages(req protocol.Request) (interface{}, error) {
	var p saveChatParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "review.save_chat_messages: %v", err)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}
	r.AppendChatMessages(p.Messages...)
	return map[string]int{"count": len(p.Messages)}, nil
}

// --- validate_finding / chat.query ---

type validateFindingParams struct {
	RunID   string     `json:"run_id"`
	Finding run.Finding `json:"finding"`
}

func (rt *Router) validateFinding(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p validateFindingParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "review.validate_finding: %v", err)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}
	return rt.Orch.ValidateFinding(ctx, r, p.Finding)
}

type chatQueryParams struct {
	RunID string `json:"run_id"`
	Query string `json:"query"`
}

type chatQueryResult struct {
	Answer    string   `json:"answer"`
	ToolCalls []string `json:"tool_calls"`
}

func (rt *Router) chatQuery(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p chatQueryParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "chat.query: %v", err)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}
	answer, err := rt.Orch.ChatQuery(ctx, r, p.Query)
	if err != nil {
		return nil, err
	}
	return chatQueryResult{Answer: answer}, nil
}

// --- patch.* / repo.* direct tool invocations ---

// patchTool and repoTool let a host call a tool directly (e.g. a human
// clicking "apply" in the editor) without going through an agent turn, by
// invoking the same per-run tools.Registry the Agent Runtime uses.
func (rt *Router) patchTool(ctx context.Context, req protocol.Request) (interface{}, error) {
	args, err := paramsToArgs(req.Params)
	if err != nil {
		return nil, err
	}
	runID, _ := args["run_id"].(string)
	r, err := rt.Store.Get(runID)
	if err != nil {
		return nil, err
	}
	registry := rt.Orch.BuildRegistry(ctx, r)
	res := registry.Invoke(ctx, req.Method, args)
	if res.IsError {
		return nil, apperr.Wrap(apperr.ToolFailure, "%s", res.ForLLM)
	}
	return json.RawMessage(res.ForLLM), nil
}

func (rt *Router) patchGenerate(ctx context.Context, req protocol.Request) (interface{}, error) {
	var p struct {
		RunID     string `json:"run_id"`
		FindingID string `json:"finding_id"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "patch.generate: %v", err)
	}
	r, err := rt.Store.Get(p.RunID)
	if err != nil {
		return nil, err
	}
	patchID, diff, err := rt.Orch.GeneratePatch(ctx, r, p.FindingID)
	if err != nil {
		return nil, err
	}
	return map[string]string{"patch_id": patchID, "diff": diff}, nil
}

func (rt *Router) repoTool(ctx context.Context, req protocol.Request) (interface{}, error) {
	args, err := paramsToArgs(req.Params)
	if err != nil {
		return nil, err
	}
	repoRoot, _ := args["repo_root"].(string)
	if repoRoot == "" {
		return nil, apperr.Wrap(apperr.ToolArgs, "%s: repo_root is required", req.Method)
	}
	registry := orchestrator.BuildRegistryForRepo(repoRoot)
	res := registry.Invoke(ctx, req.Method, args)
	if res.IsError {
		return nil, apperr.Wrap(apperr.ToolFailure, "%s", res.ForLLM)
	}
	return json.RawMessage(res.ForLLM), nil
}

func paramsToArgs(raw json.RawMessage) (map[string]interface{}, error) {
	args := make(map[string]interface{})
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, apperr.Wrap(apperr.ToolArgs, "malformed params: %v", err)
	}
	return args, nil
}
