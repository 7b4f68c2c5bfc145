package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"revertd/api/internal/revert"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	mainBranch  = "main"
	contentFile = "content.txt"
)

var ErrInvalidPage = errors.New("invalid page name")

// CommitInfo describes one page revision. ID is the 1-based position of
// the commit along the first-parent history of main.
type CommitInfo struct {
	ID        int64     `json:"id"`
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
}

// Service stores every page as its own git repository with a single
// content file on main.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) EnsurePage(page, initial, author string) error {
	path, err := s.repoPath(page)
	if err != nil {
		return err
	}
	lock := s.pageLock(page)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, contentFile), []byte(initial), 0o644); err != nil {
		return fmt.Errorf("write initial content: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add initial content: %w", err)
	}
	hash, err := worktree.Commit("Create page", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return fmt.Errorf("commit initial content: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitContent records a new revision of page by author.
func (s *Service) CommitContent(page, content, author, message string) (CommitInfo, error) {
	lock := s.pageLock(page)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(page)
	if err != nil {
		return CommitInfo{}, err
	}
	chain, err := firstParentChain(repo)
	if err != nil {
		return CommitInfo{}, err
	}
	previous, err := readContent(chain[0])
	if err != nil {
		return CommitInfo{}, err
	}

	hash, err := commit(repo, content, author, message)
	if err != nil {
		return CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	info := toCommitInfo(commitObj, int64(len(chain)+1))
	info.Added, info.Removed = LineChanges(previous, content)
	return info, nil
}

// History lists up to limit revisions of page, newest first.
func (s *Service) History(page string, limit int) ([]CommitInfo, error) {
	lock := s.pageLock(page)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(page)
	if err != nil {
		return nil, err
	}
	chain, err := firstParentChain(repo)
	if err != nil {
		return nil, err
	}
	total := len(chain)
	if limit > 0 && len(chain) > limit {
		chain = chain[:limit]
	}
	items := make([]CommitInfo, 0, len(chain))
	for i, commitObj := range chain {
		items = append(items, toCommitInfo(commitObj, int64(total-i)))
	}
	return items, nil
}

// Content returns the page text at the given revision.
func (s *Service) Content(page string, revisionID int64) (string, error) {
	lock := s.pageLock(page)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(page)
	if err != nil {
		return "", err
	}
	chain, err := firstParentChain(repo)
	if err != nil {
		return "", err
	}
	commitObj, err := commitAt(chain, revisionID)
	if err != nil {
		return "", err
	}
	return readContent(commitObj)
}

// SavePage records an ordinary edit of page by author, creating the page
// on first save.
func (s *Service) SavePage(ctx context.Context, page, content, author, summary string) (CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return CommitInfo{}, err
	}
	info, err := s.CommitContent(page, content, author, summary)
	if !errors.Is(err, revert.ErrPageNotFound) {
		return info, err
	}
	if err := s.EnsurePage(page, content, author); err != nil {
		return CommitInfo{}, err
	}
	items, err := s.History(page, 1)
	if err != nil {
		return CommitInfo{}, err
	}
	created := items[0]
	created.Added = countLines(content)
	return created, nil
}

// FetchHistory returns the newest limit revisions of page as a revert
// history window. Local pages are always editable and never flagged.
func (s *Service) FetchHistory(ctx context.Context, page string, limit int) (revert.History, error) {
	if err := ctx.Err(); err != nil {
		return revert.History{}, err
	}
	items, err := s.History(page, limit)
	if err != nil {
		return revert.History{}, err
	}
	hist := revert.History{
		Page:      page,
		Editable:  true,
		Revisions: make([]revert.Revision, 0, len(items)),
	}
	for _, item := range items {
		hist.Revisions = append(hist.Revisions, revert.Revision{
			ID:         item.ID,
			User:       item.Author,
			UserHidden: item.Author == "",
			Timestamp:  item.CreatedAt,
		})
	}
	if len(items) > 0 {
		hist.TopRevisionID = items[0].ID
	}
	return hist, nil
}

// ApplyRevert commits the content of the target revision on top of main.
// It fails with revert.ErrEditConflict when main no longer ends at the
// base revision the decision was made against.
func (s *Service) ApplyRevert(ctx context.Context, req revert.EditRequest) (revert.EditResult, error) {
	if err := ctx.Err(); err != nil {
		return revert.EditResult{}, err
	}
	lock := s.pageLock(req.Page)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(req.Page)
	if err != nil {
		return revert.EditResult{}, err
	}
	chain, err := firstParentChain(repo)
	if err != nil {
		return revert.EditResult{}, err
	}
	head := int64(len(chain))
	if head != req.BaseRevisionID {
		return revert.EditResult{}, fmt.Errorf("page %q is at revision %d, expected %d: %w", req.Page, head, req.BaseRevisionID, revert.ErrEditConflict)
	}
	target, err := commitAt(chain, req.TargetRevisionID)
	if err != nil {
		return revert.EditResult{}, err
	}
	restored, err := readContent(target)
	if err != nil {
		return revert.EditResult{}, err
	}
	current, err := readContent(chain[0])
	if err != nil {
		return revert.EditResult{}, err
	}
	if restored == current {
		return revert.EditResult{NewRevisionID: head, NoChange: true}, nil
	}

	message := req.Summary
	if len(req.Tags) > 0 {
		message += "\n\nTags: " + strings.Join(req.Tags, ", ")
	}
	if _, err := commit(repo, restored, req.Actor, message); err != nil {
		return revert.EditResult{}, err
	}
	added, removed := LineChanges(current, restored)
	return revert.EditResult{NewRevisionID: head + 1, Added: added, Removed: removed}, nil
}

// Notify is a no-op: local pages have no talk pages.
func (s *Service) Notify(ctx context.Context, contributor, page, notice string) error {
	return nil
}

// SubmitReview is a no-op: local pages have no pending changes.
func (s *Service) SubmitReview(ctx context.Context, page string, revisionID int64, comment string) error {
	return nil
}

// LineChanges counts the lines added and removed going from before to after.
func LineChanges(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(diff.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(diff.Text)
		}
	}
	return added, removed
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	count := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		count++
	}
	return count
}

func (s *Service) repoPath(page string) (string, error) {
	name := url.PathEscape(strings.TrimSpace(page))
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPage, page)
	}
	return filepath.Join(s.baseDir, name), nil
}

func (s *Service) open(page string) (*git.Repository, error) {
	path, err := s.repoPath(page)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open page %q: %w", page, revert.ErrPageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) pageLock(page string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[page]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[page] = lock
	return lock
}

func commit(repo *git.Repository, content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(mainBranch), Force: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("checkout branch %s: %w", mainBranch, err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, contentFile), []byte(content), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

// firstParentChain returns the commits reachable from main by following
// first parents, newest first.
func firstParentChain(repo *git.Repository) ([]*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	chain := make([]*object.Commit, 0, 16)
	for {
		chain = append(chain, commitObj)
		if commitObj.NumParents() == 0 {
			return chain, nil
		}
		commitObj, err = commitObj.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("load parent commit: %w", err)
		}
	}
}

func commitAt(chain []*object.Commit, revisionID int64) (*object.Commit, error) {
	index := int64(len(chain)) - revisionID
	if revisionID <= 0 || index < 0 {
		return nil, fmt.Errorf("revision %d does not exist", revisionID)
	}
	return chain[index], nil
}

func readContent(commitObj *object.Commit) (string, error) {
	file, err := commitObj.File(contentFile)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read content bytes: %w", err)
	}
	return string(data), nil
}

func toCommitInfo(commitObj *object.Commit, id int64) CommitInfo {
	return CommitInfo{
		ID:        id,
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@pages.revertd.local", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' || r == '.' || r == ':' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
