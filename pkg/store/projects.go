package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/killallgit/converse/pkg/backend"
	"github.com/killallgit/converse/pkg/chat"
	"github.com/killallgit/converse/pkg/logger"
)

// ProjectsState is a point-in-time copy of the projects store
type ProjectsState struct {
	Projects       []chat.Project
	CurrentProject *chat.Project
	Loading        bool
	Error          string
}

// Projects tracks the project list and which project filters the chat list
type Projects struct {
	mu       sync.Mutex
	commands backend.Commands
	log      *logger.Logger
	state    ProjectsState
}

func NewProjects(commands backend.Commands) *Projects {
	return &Projects{
		commands: commands,
		log:      logger.WithComponent("projects"),
		state:    ProjectsState{Projects: []chat.Project{}},
	}
}

func (p *Projects) Snapshot() ProjectsState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.state
	out.Projects = chat.CloneProjects(p.state.Projects)
	if p.state.CurrentProject != nil {
		current := *p.state.CurrentProject
		out.CurrentProject = &current
	}
	return out
}

// CurrentProjectID returns the selected project id, or "" when none is selected
func (p *Projects) CurrentProjectID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.CurrentProject == nil {
		return ""
	}
	return p.state.CurrentProject.ID
}

func (p *Projects) LoadProjects(ctx context.Context) error {
	p.mu.Lock()
	p.state.Loading = true
	p.state.Error = ""
	p.mu.Unlock()

	projects, err := p.commands.ListProjects(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Loading = false

	if err != nil {
		p.record("load projects", err)
		return fmt.Errorf("failed to load projects: %w", err)
	}
	p.state.Projects = chat.CloneProjects(projects)
	return nil
}

// SelectProject sets the current project; nil selects chats outside any project
func (p *Projects) SelectProject(project *chat.Project) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if project == nil {
		p.state.CurrentProject = nil
		return
	}
	selected := *project
	p.state.CurrentProject = &selected
}

func (p *Projects) CreateProject(ctx context.Context, name string) (chat.Project, error) {
	created, err := p.commands.CreateProject(ctx, name)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.record("create project", err)
		return chat.Project{}, fmt.Errorf("failed to create project: %w", err)
	}

	p.state.Projects = append([]chat.Project{created}, p.state.Projects...)
	p.log.Info("Created project %s (%s)", created.ID, created.Name)
	return created, nil
}

// DeleteProject removes a project. The error is recorded and also returned.
func (p *Projects) DeleteProject(ctx context.Context, projectID string) error {
	err := p.commands.DeleteProject(ctx, projectID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.record("delete project", err)
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}

	kept := p.state.Projects[:0:0]
	for _, project := range p.state.Projects {
		if project.ID != projectID {
			kept = append(kept, project)
		}
	}
	p.state.Projects = kept

	if p.state.CurrentProject != nil && p.state.CurrentProject.ID == projectID {
		p.state.CurrentProject = nil
	}
	return nil
}

func (p *Projects) ProjectSettings(ctx context.Context, projectID string) (chat.ProjectSettings, error) {
	settings, err := p.commands.ProjectSettings(ctx, projectID)
	if err != nil {
		p.mu.Lock()
		p.record("load project settings", err)
		p.mu.Unlock()
		return chat.ProjectSettings{}, fmt.Errorf("failed to load settings for project %s: %w", projectID, err)
	}
	return settings, nil
}

func (p *Projects) UpdateProjectSettings(ctx context.Context, projectID string, settings chat.ProjectSettings) error {
	if err := p.commands.UpdateProjectSettings(ctx, projectID, settings); err != nil {
		p.mu.Lock()
		p.record("update project settings", err)
		p.mu.Unlock()
		return fmt.Errorf("failed to update settings for project %s: %w", projectID, err)
	}
	return nil
}

func (p *Projects) record(op string, err error) {
	p.log.Error("Failed to %s: %v", op, err)
	p.state.Error = err.Error()
}
