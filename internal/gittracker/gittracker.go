// Package gittracker implements GitDeploymentTracker (spec §4.1): the only
// component allowed to invoke git. It answers whether the tree is clean,
// what SQL existed at a commit, what the last deployment tag was, and
// creates the annotated tags that serve as the deployment ledger.
//
// Grounded on internal/worktree/worktree.go's GitRunner/ExecGit split and
// internal/context/git.go's merge-base-aware diff helpers.
package gittracker

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flyingrobots/data-deploy/internal/childproc"
	"github.com/flyingrobots/data-deploy/internal/events"
)

// GitRef names a commit, branch, or tag. Opaque to every caller.
type GitRef = string

// DeploymentTag is an annotated git tag recording a deployment.
type DeploymentTag struct {
	Name       string
	CommitHash string
	Timestamp  time.Time
	Metadata   map[string]interface{}
}

// WorkingTreeStatus mirrors `git status --porcelain`, bucketed by change kind.
type WorkingTreeStatus struct {
	Modified  []string
	Staged    []string
	Deleted   []string
	Untracked []string
}

// Clean reports whether all four buckets are empty.
func (s WorkingTreeStatus) Clean() bool {
	return len(s.Modified) == 0 && len(s.Staged) == 0 && len(s.Deleted) == 0 && len(s.Untracked) == 0
}

// DeploymentReadiness is the result of ValidateDeploymentReadiness.
// Invariant: Valid == (len(Errors) == 0); Warnings never block.
type DeploymentReadiness struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Branch   string
	Clean    bool
}

// ErrorKind discriminates GitError causes without string matching.
type ErrorKind int

const (
	ErrKindGeneric ErrorKind = iota
	ErrKindNotAGitRepo
)

// Error is the typed GitError from spec §7: a subprocess failure carrying
// exit code and stderr.
type Error struct {
	Op       string
	Kind     ErrorKind
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s: %s", e.Op, strings.TrimSpace(e.Stderr))
}

func (e *Error) Unwrap() error { return e.Err }

const tagPrefix = "data-deploy-"

var stageDirRe = regexp.MustCompile(`^\d{3}_.+`)

// Tracker wraps a single git working copy.
type Tracker struct {
	runner  childproc.Runner
	repoDir string
	sqlDir  string // path relative to repoDir holding the golden SQL tree
	timeout time.Duration
	sink    events.Sink
}

// New creates a Tracker. sqlDir is relative to repoDir.
func New(runner childproc.Runner, repoDir, sqlDir string) *Tracker {
	return &Tracker{runner: runner, repoDir: repoDir, sqlDir: sqlDir, timeout: 30 * time.Second, sink: events.Discard}
}

// SetSink configures where progress/warning events are emitted.
func (t *Tracker) SetSink(s events.Sink) { t.sink = s }

// SetTimeout overrides the per-invocation git timeout (default 30s per §5).
func (t *Tracker) SetTimeout(d time.Duration) { t.timeout = d }

func (t *Tracker) git(ctx context.Context, args ...string) (string, error) {
	res, err := t.runner.Execute(ctx, "git", args, childproc.Opts{Cwd: t.repoDir, Timeout: t.timeout})
	if err != nil {
		var kind ErrorKind
		if strings.Contains(res.Stderr, "not a git repository") {
			kind = ErrKindNotAGitRepo
		}
		return res.Stdout, &Error{Op: strings.Join(args, " "), Kind: kind, ExitCode: res.ExitCode, Stderr: res.Stderr, Err: err}
	}
	// Only trailing whitespace is trimmed: the first column of
	// `status --porcelain` output is significant even when it is a space.
	return strings.TrimRight(res.Stdout, " \t\r\n"), nil
}

// GetWorkingTreeStatus parses `git status --porcelain` into four buckets.
func (t *Tracker) GetWorkingTreeStatus(ctx context.Context) (*WorkingTreeStatus, error) {
	out, err := t.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	st := &WorkingTreeStatus{}
	if out == "" {
		return st, nil
	}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		index := line[0]
		worktree := line[1]
		file := strings.TrimSpace(line[2:])
		switch {
		case index == '?' && worktree == '?':
			st.Untracked = append(st.Untracked, file)
		case worktree == 'D' || index == 'D':
			st.Deleted = append(st.Deleted, file)
		case index != ' ' && index != '?':
			st.Staged = append(st.Staged, file)
		case worktree != ' ':
			st.Modified = append(st.Modified, file)
		}
	}
	return st, nil
}

// IsWorkingTreeClean reports whether the tree has no modified, staged,
// deleted, or untracked files.
func (t *Tracker) IsWorkingTreeClean(ctx context.Context) (bool, error) {
	st, err := t.GetWorkingTreeStatus(ctx)
	if err != nil {
		return false, err
	}
	return st.Clean(), nil
}

// GetCurrentBranch returns the checked-out branch name. On an empty
// repository (no commits yet) this fails loudly; callers may treat the
// error as "not a git repository" and skip further git checks.
func (t *Tracker) GetCurrentBranch(ctx context.Context) (string, error) {
	return t.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// GetCurrentCommit returns the full hash of HEAD.
func (t *Tracker) GetCurrentCommit(ctx context.Context) (string, error) {
	return t.git(ctx, "rev-parse", "HEAD")
}

// ValidateDeploymentReadiness runs the full readiness algorithm from §4.1.
// Errors are accumulated rather than short-circuited; Valid is true iff
// Errors is empty.
func (t *Tracker) ValidateDeploymentReadiness(ctx context.Context) (*DeploymentReadiness, error) {
	r := &DeploymentReadiness{Valid: true}

	status, err := t.GetWorkingTreeStatus(ctx)
	if err != nil {
		return nil, err
	}
	r.Clean = status.Clean()
	if !r.Clean {
		r.Errors = append(r.Errors, "working tree is not clean")
		for _, f := range status.Modified {
			r.Warnings = append(r.Warnings, fmt.Sprintf("modified: %s", f))
		}
		for _, f := range status.Staged {
			r.Warnings = append(r.Warnings, fmt.Sprintf("staged: %s", f))
		}
		for _, f := range status.Deleted {
			r.Warnings = append(r.Warnings, fmt.Sprintf("deleted: %s", f))
		}
		for _, f := range status.Untracked {
			r.Warnings = append(r.Warnings, fmt.Sprintf("untracked: %s", f))
		}
	}

	branch, err := t.GetCurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	r.Branch = branch
	if branch != "main" && branch != "master" {
		r.Errors = append(r.Errors, fmt.Sprintf("current branch %q is not main or master", branch))
	} else {
		if err := t.checkRemoteDivergence(ctx, branch, r); err != nil {
			return nil, err
		}
	}

	r.Valid = len(r.Errors) == 0
	return r, nil
}

func (t *Tracker) checkRemoteDivergence(ctx context.Context, branch string, r *DeploymentReadiness) error {
	if _, err := t.git(ctx, "fetch", "origin", branch); err != nil {
		gerr, ok := err.(*Error)
		if ok && strings.Contains(strings.ToLower(gerr.Stderr), "does not appear to be a git repository") {
			r.Warnings = append(r.Warnings, "no remote configured; skipping divergence check")
			return nil
		}
		if ok && strings.Contains(strings.ToLower(gerr.Stderr), "could not resolve host") {
			r.Errors = append(r.Errors, fmt.Sprintf("failed to fetch origin/%s: network error", branch))
			return nil
		}
		// Unknown fetch failure: treat conservatively as a network error, not fatal to the caller.
		r.Errors = append(r.Errors, fmt.Sprintf("failed to fetch origin/%s: %v", branch, err))
		return nil
	}

	counts, err := t.git(ctx, "rev-list", "--left-right", "--count", fmt.Sprintf("origin/%s...HEAD", branch))
	if err != nil {
		return nil
	}
	parts := strings.Fields(counts)
	if len(parts) != 2 {
		return nil
	}
	behind, _ := strconv.Atoi(parts[0])
	ahead, _ := strconv.Atoi(parts[1])

	switch {
	case ahead > 0 && behind > 0:
		r.Errors = append(r.Errors, fmt.Sprintf("branch has diverged from origin/%s (%d ahead, %d behind)", branch, ahead, behind))
	case behind > 0:
		r.Errors = append(r.Errors, fmt.Sprintf("branch is %d commits behind origin/%s; pull first", behind, branch))
	case ahead > 0:
		r.Errors = append(r.Errors, fmt.Sprintf("branch is %d commits ahead of origin/%s; push first", ahead, branch))
	}
	return nil
}

func fullTagName(name string) string {
	if strings.HasPrefix(name, tagPrefix) {
		return name
	}
	return tagPrefix + name
}

// CreateDeploymentTag creates an annotated tag whose message body is the
// JSON encoding of metadata. Returns the full tag name (with prefix applied
// at most once).
func (t *Tracker) CreateDeploymentTag(ctx context.Context, name string, metadata map[string]interface{}) (string, error) {
	full := fullTagName(name)
	body, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal tag metadata: %w", err)
	}
	if _, err := t.git(ctx, "tag", "-a", full, "-m", string(body)); err != nil {
		return "", err
	}
	t.sink.Emit(events.Event{Kind: events.KindSuccess, Message: fmt.Sprintf("created deployment tag %s", full)})
	return full, nil
}

// DeleteDeploymentTag removes a tag by full name.
func (t *Tracker) DeleteDeploymentTag(ctx context.Context, name string) error {
	_, err := t.git(ctx, "tag", "-d", name)
	return err
}

// TagExists reports whether a tag with the given full name exists.
func (t *Tracker) TagExists(ctx context.Context, name string) (bool, error) {
	_, err := t.git(ctx, "rev-parse", "--verify", "--quiet", "refs/tags/"+name)
	if err != nil {
		var gerr *Error
		if asGitError(err, &gerr) && gerr.ExitCode == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetLastDeploymentTag returns the most recent deployment tag by
// version-refname ordering, or nil if none exist.
func (t *Tracker) GetLastDeploymentTag(ctx context.Context) (*DeploymentTag, error) {
	tags, err := t.GetDeploymentHistory(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return &tags[0], nil
}

// GetDeploymentHistory lists up to limit deployment tags, newest first by
// version-refname sort. limit <= 0 means unlimited.
func (t *Tracker) GetDeploymentHistory(ctx context.Context, limit int) ([]DeploymentTag, error) {
	out, err := t.git(ctx, "tag", "-l", tagPrefix+"*", "--sort=-version:refname")
	if err != nil {
		return nil, err
	}
	var names []string
	if out != "" {
		names = strings.Split(out, "\n")
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	tags := make([]DeploymentTag, 0, len(names))
	for _, name := range names {
		tag, err := t.readTag(ctx, name)
		if err != nil {
			continue
		}
		tags = append(tags, *tag)
	}
	return tags, nil
}

func (t *Tracker) readTag(ctx context.Context, name string) (*DeploymentTag, error) {
	hash, err := t.git(ctx, "rev-list", "-n", "1", name)
	if err != nil {
		return nil, err
	}
	body, err := t.git(ctx, "tag", "-l", "--format=%(contents)", name)
	if err != nil {
		return nil, err
	}
	ts, err := t.git(ctx, "log", "-1", "--format=%aI", name)
	if err != nil {
		return nil, err
	}

	var meta map[string]interface{}
	_ = json.Unmarshal([]byte(strings.TrimSpace(body)), &meta)

	when, _ := time.Parse(time.RFC3339, strings.TrimSpace(ts))
	return &DeploymentTag{Name: name, CommitHash: hash, Timestamp: when, Metadata: meta}, nil
}

// GetSQLAtCommit concatenates every *.sql file under sqlDir as it existed at
// the given commit, in lexicographic path order, each prefixed by a
// "-- File: <path>" banner. A file that does not exist at that commit is
// skipped with a progress event, never an error. Independent `git show`
// calls for each path are issued concurrently (§5: "the enclosing phase may
// initiate [ChildProcess invocations] in parallel when semantically
// independent... while assembling historical SQL").
func (t *Tracker) GetSQLAtCommit(ctx context.Context, hash string) (string, error) {
	out, err := t.git(ctx, "ls-tree", "-r", "--name-only", hash, "--", t.sqlDir)
	if err != nil {
		return "", err
	}
	var paths []string
	for _, p := range strings.Split(out, "\n") {
		p = strings.TrimSpace(p)
		if p != "" && strings.HasSuffix(p, ".sql") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	contents := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			body, err := t.git(gctx, "show", fmt.Sprintf("%s:%s", hash, p))
			if err != nil {
				t.sink.Emit(events.Event{Kind: events.KindProgress, Message: fmt.Sprintf("skipping %s: not present at %s", p, hash)})
				return nil
			}
			contents[i] = fmt.Sprintf("-- File: %s\n%s\n", p, body)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range contents {
		if c != "" {
			sb.WriteString(c)
		}
	}
	return sb.String(), nil
}

// ChangeSet is the raw textual diff between two refs, scoped to sqlDir.
type ChangeSet struct {
	From GitRef
	To   GitRef
	Diff string
}

// GetChangesBetweenCommits runs `git diff from...to -- <sqlDir>/` and
// returns the raw unified diff text for DiffEngine to parse. DiffEngine
// never invokes git itself — every git invocation flows through the
// tracker, per §5's "Git working tree is mutated only by GitDeploymentTracker...
// no other component writes to git" (reads are routed the same way for a
// single point of control).
func (t *Tracker) GetChangesBetweenCommits(ctx context.Context, from, to GitRef) (*ChangeSet, error) {
	pathspec := path.Join(t.sqlDir) + "/"
	diff, err := t.git(ctx, "diff", fmt.Sprintf("%s...%s", from, to), "--", pathspec)
	if err != nil {
		return nil, err
	}
	return &ChangeSet{From: from, To: to, Diff: diff}, nil
}

// PushDeploymentTags pushes all data-deploy-* tags to remote.
func (t *Tracker) PushDeploymentTags(ctx context.Context, remote string) error {
	_, err := t.git(ctx, "push", remote, tagPrefix+"*")
	return err
}

func asGitError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// IsStageDir reports whether name matches the stage-directory pattern ^\d{3}_.+.
func IsStageDir(name string) bool { return stageDirRe.MatchString(name) }
