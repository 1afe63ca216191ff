package engine

import "github.com/t77yq/agentflow/internal/model"

// pipelineOrder is the fixed stage sequence work moves through
var pipelineOrder = []model.WorkflowStage{
	model.StageRequirements,
	model.StageAnalysis,
	model.StageDevelopment,
	model.StageTesting,
	model.StageReview,
	model.StageDone,
}

// nextStage returns the stage after the given one. last is true when
// the current stage is the final working stage.
func nextStage(stage model.WorkflowStage) (next model.WorkflowStage, last bool) {
	for i, s := range pipelineOrder {
		if s != stage {
			continue
		}
		if i+1 >= len(pipelineOrder) {
			return model.StageDone, true
		}
		next = pipelineOrder[i+1]
		return next, next == model.StageDone
	}
	// Unknown stage: treat as the start of the pipeline
	return pipelineOrder[0], false
}

// stageRoles maps each stage to the role that owns it
var stageRoles = map[model.WorkflowStage]model.AgentRole{
	model.StageRequirements: model.RoleRequirements,
	model.StageAnalysis:     model.RoleAnalysis,
	model.StageDevelopment:  model.RoleDevelopment,
	model.StageTesting:      model.RoleTesting,
	model.StageReview:       model.RoleReview,
}

// roleForStage returns the role owning a stage, defaulting to lead
func roleForStage(stage model.WorkflowStage) model.AgentRole {
	if role, ok := stageRoles[stage]; ok {
		return role
	}
	return model.RoleLead
}
