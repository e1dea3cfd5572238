package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				trigger JSONB NOT NULL,
				steps JSONB NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT false,
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE flow_versions (
				flow_id VARCHAR(255) NOT NULL,
				version INT NOT NULL,
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (flow_id, version)
			);

			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				flow_id VARCHAR(255) NOT NULL,
				flow_version INT NOT NULL,
				recipient_id VARCHAR(255) NOT NULL,
				context JSONB,
				queue JSONB NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'waiting', 'completed', 'failed', 'cancelled')),
				wake_at TIMESTAMP WITH TIME ZONE,
				attempts INT NOT NULL DEFAULT 0,
				steps_run INT NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_runs_flow_status ON runs(flow_id, status);
			CREATE INDEX idx_runs_wake_at ON runs(wake_at) WHERE status = 'waiting';
			CREATE INDEX idx_runs_flow_recipient ON runs(flow_id, recipient_id);

			CREATE TABLE delivery_attempts (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				recipient VARCHAR(255),
				attempt_number INT NOT NULL,
				outcome VARCHAR(50) NOT NULL CHECK (outcome IN ('sent', 'delivered', 'bounced', 'failed')),
				cost NUMERIC(10, 5) NOT NULL DEFAULT 0,
				error TEXT,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (run_id, step_id, attempt_number)
			);

			CREATE INDEX idx_attempts_run ON delivery_attempts(run_id);
			CREATE INDEX idx_attempts_flow_channel_time ON delivery_attempts(flow_id, channel, timestamp);

			CREATE TABLE engagement_events (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255),
				flow_id VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				type VARCHAR(50) NOT NULL CHECK (type IN ('opened', 'clicked')),
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_engagements_run ON engagement_events(run_id);
			CREATE INDEX idx_engagements_flow_channel_time ON engagement_events(flow_id, channel, timestamp);

			CREATE TABLE templates (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				channel VARCHAR(50) NOT NULL,
				limit_class VARCHAR(50),
				subject TEXT,
				body TEXT NOT NULL,
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
