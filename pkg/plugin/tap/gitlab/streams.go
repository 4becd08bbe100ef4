package gitlab

// streamDef describes one GitLab collection: where to fetch it, how it
// is keyed, and which field drives incremental replication.
type streamDef struct {
	Name string

	// Path is the API path template. {project} and {group} are replaced
	// with URL-encoded identifiers; {parent} with the parent record key.
	Path string

	Keys           []string
	ReplicationKey string

	// Parent names a stream whose records must be fetched first, one
	// child request per parent record. ParentKey is the field of the
	// parent record interpolated as {parent}.
	Parent    string
	ParentKey string

	// Gate names the config flag that must be set for the stream to be
	// discovered at all.
	Gate string

	Schema map[string]any
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func typ(names ...string) map[string]any {
	anys := make([]any, len(names))
	for i, n := range names {
		anys[i] = n
	}
	return map[string]any{"type": anys}
}

var streams = []streamDef{
	{
		Name:           "projects",
		Path:           "/projects/{project}",
		Keys:           []string{"id"},
		ReplicationKey: "last_activity_at",
		Schema: objectSchema(map[string]any{
			"id":                  typ("integer"),
			"name":                typ("string", "null"),
			"path_with_namespace": typ("string", "null"),
			"description":         typ("string", "null"),
			"default_branch":      typ("string", "null"),
			"visibility":          typ("string", "null"),
			"created_at":          typ("string", "null"),
			"last_activity_at":    typ("string", "null"),
		}),
	},
	{
		Name: "branches",
		Path: "/projects/{project}/repository/branches",
		Keys: []string{"name"},
		Schema: objectSchema(map[string]any{
			"name":      typ("string"),
			"merged":    typ("boolean", "null"),
			"protected": typ("boolean", "null"),
			"default":   typ("boolean", "null"),
			"commit":    typ("object", "null"),
		}),
	},
	{
		Name:           "commits",
		Path:           "/projects/{project}/repository/commits",
		Keys:           []string{"id"},
		ReplicationKey: "created_at",
		Schema: objectSchema(map[string]any{
			"id":           typ("string"),
			"short_id":     typ("string", "null"),
			"title":        typ("string", "null"),
			"message":      typ("string", "null"),
			"author_name":  typ("string", "null"),
			"author_email": typ("string", "null"),
			"created_at":   typ("string", "null"),
		}),
	},
	{
		Name:           "issues",
		Path:           "/projects/{project}/issues",
		Keys:           []string{"id"},
		ReplicationKey: "updated_at",
		Schema: objectSchema(map[string]any{
			"id":          typ("integer"),
			"iid":         typ("integer", "null"),
			"title":       typ("string", "null"),
			"description": typ("string", "null"),
			"state":       typ("string", "null"),
			"labels":      typ("array", "null"),
			"created_at":  typ("string", "null"),
			"updated_at":  typ("string", "null"),
		}),
	},
	{
		Name:           "merge_requests",
		Path:           "/projects/{project}/merge_requests",
		Keys:           []string{"id"},
		ReplicationKey: "updated_at",
		Schema: objectSchema(map[string]any{
			"id":            typ("integer"),
			"iid":           typ("integer", "null"),
			"title":         typ("string", "null"),
			"state":         typ("string", "null"),
			"source_branch": typ("string", "null"),
			"target_branch": typ("string", "null"),
			"created_at":    typ("string", "null"),
			"updated_at":    typ("string", "null"),
		}),
	},
	{
		Name:      "merge_request_commits",
		Path:      "/projects/{project}/merge_requests/{parent}/commits",
		Keys:      []string{"id"},
		Parent:    "merge_requests",
		ParentKey: "iid",
		Gate:      "fetch_merge_request_commits",
		Schema: objectSchema(map[string]any{
			"id":         typ("string"),
			"short_id":   typ("string", "null"),
			"title":      typ("string", "null"),
			"created_at": typ("string", "null"),
		}),
	},
	{
		Name:           "pipelines",
		Path:           "/projects/{project}/pipelines",
		Keys:           []string{"id"},
		ReplicationKey: "updated_at",
		Schema: objectSchema(map[string]any{
			"id":         typ("integer"),
			"status":     typ("string", "null"),
			"ref":        typ("string", "null"),
			"sha":        typ("string", "null"),
			"created_at": typ("string", "null"),
			"updated_at": typ("string", "null"),
		}),
	},
	{
		Name:      "pipelines_extended",
		Path:      "/projects/{project}/pipelines/{parent}",
		Keys:      []string{"id"},
		Parent:    "pipelines",
		ParentKey: "id",
		Gate:      "fetch_pipelines_extended",
		Schema: objectSchema(map[string]any{
			"id":          typ("integer"),
			"status":      typ("string", "null"),
			"ref":         typ("string", "null"),
			"sha":         typ("string", "null"),
			"duration":    typ("integer", "null"),
			"started_at":  typ("string", "null"),
			"finished_at": typ("string", "null"),
			"user":        typ("object", "null"),
		}),
	},
	{
		Name: "jobs",
		Path: "/projects/{project}/jobs",
		Keys: []string{"id"},
		Schema: objectSchema(map[string]any{
			"id":          typ("integer"),
			"name":        typ("string", "null"),
			"stage":       typ("string", "null"),
			"status":      typ("string", "null"),
			"ref":         typ("string", "null"),
			"created_at":  typ("string", "null"),
			"started_at":  typ("string", "null"),
			"finished_at": typ("string", "null"),
		}),
	},
	{
		Name: "users",
		Path: "/projects/{project}/users",
		Keys: []string{"id"},
		Schema: objectSchema(map[string]any{
			"id":       typ("integer"),
			"username": typ("string", "null"),
			"name":     typ("string", "null"),
			"state":    typ("string", "null"),
		}),
	},
	{
		Name:           "releases",
		Path:           "/projects/{project}/releases",
		Keys:           []string{"tag_name"},
		ReplicationKey: "released_at",
		Schema: objectSchema(map[string]any{
			"tag_name":    typ("string"),
			"name":        typ("string", "null"),
			"description": typ("string", "null"),
			"created_at":  typ("string", "null"),
			"released_at": typ("string", "null"),
		}),
	},
	{
		Name: "tags",
		Path: "/projects/{project}/repository/tags",
		Keys: []string{"name"},
		Schema: objectSchema(map[string]any{
			"name":    typ("string"),
			"message": typ("string", "null"),
			"target":  typ("string", "null"),
			"commit":  typ("object", "null"),
		}),
	},
	{
		Name:           "epics",
		Path:           "/groups/{group}/epics",
		Keys:           []string{"id"},
		ReplicationKey: "updated_at",
		Gate:           "ultimate_license",
		Schema: objectSchema(map[string]any{
			"id":         typ("integer"),
			"iid":        typ("integer", "null"),
			"group_id":   typ("integer", "null"),
			"title":      typ("string", "null"),
			"state":      typ("string", "null"),
			"created_at": typ("string", "null"),
			"updated_at": typ("string", "null"),
		}),
	},
}

func streamByName(name string) *streamDef {
	for i := range streams {
		if streams[i].Name == name {
			return &streams[i]
		}
	}
	return nil
}
