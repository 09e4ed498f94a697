// Copyright 2026 Society Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package project holds the shared data model persisted in projects.json:
// projects, their agent configurations, and their task lists. The task
// lifecycle itself lives in pkg/taskpool; keeping the types here breaks the
// import cycle between the store and the pool.
package project

import (
	"time"
)

// AgentConfig is one agent's configuration inside a project.
type AgentConfig struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	SystemPrompt  string `json:"systemPrompt,omitempty"`
	HomeFolder    string `json:"homeFolder"`
	Ephemeral     bool   `json:"ephemeral,omitempty"`
	ReportsTo     string `json:"reportsTo,omitempty"`
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	MemorySummary string `json:"memorySummary,omitempty"`
}

// TaskStatus is a task's position in its lifecycle.
type TaskStatus string

const (
	TaskAvailable  TaskStatus = "available"
	TaskClaimed    TaskStatus = "claimed"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskContext carries the execution context handed to whoever claims a task.
type TaskContext struct {
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
	RelevantFiles    []string `json:"relevantFiles,omitempty"`
	OutputPaths      []string `json:"outputPaths,omitempty"`
	Conventions      string   `json:"conventions,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

// TaskResult records what a completed task produced.
type TaskResult struct {
	FilesCreated  []string `json:"filesCreated,omitempty"`
	FilesModified []string `json:"filesModified,omitempty"`
	Summary       string   `json:"summary,omitempty"`
}

// Task is one unit of work in a project's pool.
//
// Lifecycle: available → claimed → in-progress → completed, with fail
// returning the task to available (FailureReason kept for the next claimant).
type Task struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Priority      int         `json:"priority"`
	Status        TaskStatus  `json:"status"`
	CreatedBy     string      `json:"createdBy"`
	CreatedAt     time.Time   `json:"createdAt"`
	ClaimedBy     string      `json:"claimedBy,omitempty"`
	ClaimedAt     *time.Time  `json:"claimedAt,omitempty"`
	Context       TaskContext `json:"context"`
	Result        *TaskResult `json:"result,omitempty"`
	FailureReason string      `json:"failureReason,omitempty"`
}

// Active reports whether the task is currently held by an agent.
func (t *Task) Active() bool {
	return t.Status == TaskClaimed || t.Status == TaskInProgress
}

// Project groups a team of agents, their knowledge, and a task pool under
// one workspace folder.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Folder    string        `json:"folder"`
	Agents    []AgentConfig `json:"agents"`
	Knowledge string        `json:"knowledge,omitempty"`
	Tasks     []Task        `json:"tasks"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Agent returns the config for agentID, or nil when absent.
func (p *Project) Agent(agentID string) *AgentConfig {
	for i := range p.Agents {
		if p.Agents[i].ID == agentID {
			return &p.Agents[i]
		}
	}
	return nil
}

// Task returns the task with taskID, or nil when absent.
func (p *Project) Task(taskID string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			return &p.Tasks[i]
		}
	}
	return nil
}

// ActiveTaskFor returns the task currently held by agentID, or nil.
func (p *Project) ActiveTaskFor(agentID string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].Active() && p.Tasks[i].ClaimedBy == agentID {
			return &p.Tasks[i]
		}
	}
	return nil
}
