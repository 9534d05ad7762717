package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Approval aggregates; approvers, decisions and the escalation trail are append-only
			-- JSONB snapshots owned by the aggregate.
			CREATE TABLE approvals (
				id UUID PRIMARY KEY,
				refund_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('PENDING', 'ESCALATED', 'APPROVED', 'REJECTED')),
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
				requested_by VARCHAR(255),
				approvers JSONB NOT NULL DEFAULT '[]',
				decisions JSONB NOT NULL DEFAULT '[]',
				escalation_level INTEGER NOT NULL DEFAULT 0 CHECK (escalation_level >= 0),
				escalation_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				escalations JSONB NOT NULL DEFAULT '[]',
				ladder_exhausted_at TIMESTAMP WITH TIME ZONE,
				archived_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_approvals_active_refund ON approvals(refund_id)
				WHERE status IN ('PENDING', 'ESCALATED');
			CREATE INDEX idx_approvals_refund_id ON approvals(refund_id);
			CREATE INDEX idx_approvals_due ON approvals(escalation_due_at)
				WHERE status IN ('PENDING', 'ESCALATED');
		`,
		2: `
			-- Rule and workflow configuration stored as documents with the filter columns projected.
			CREATE TABLE approval_rules (
				id VARCHAR(255) PRIMARY KEY,
				scope_type VARCHAR(20) NOT NULL,
				scope_id VARCHAR(255) NOT NULL,
				priority INTEGER NOT NULL DEFAULT 0,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approval_rules_scope ON approval_rules(scope_type, scope_id);

			CREATE TABLE approval_workflows (
				id VARCHAR(255) PRIMARY KEY,
				scope_type VARCHAR(20) NOT NULL,
				scope_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(20) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approval_workflows_scope ON approval_workflows(scope_type, scope_id);
		`,
	}
}
