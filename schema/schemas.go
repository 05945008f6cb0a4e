package schema

// rawSchemas holds the JSON Schema (draft-07) text for every wire
// structure named in spec.md §3/§6, keyed by Name.
var rawSchemas = map[Name]string{
	DatastoreDescriptor: `{
		"type": "object",
		"required": ["type", "pubkey", "drivers", "device_ids", "root_uuid"],
		"properties": {
			"type": {"type": "string", "enum": ["datastore", "collection"]},
			"pubkey": {"type": "string"},
			"drivers": {"type": "array", "items": {"type": "string"}},
			"device_ids": {"type": "array", "items": {"type": "string"}},
			"root_uuid": {"type": "string"}
		}
	}`,

	DeviceRootPage: `{
		"type": "object",
		"required": ["proto_version", "type", "owner", "timestamp", "files", "tombstones"],
		"properties": {
			"proto_version": {"type": "integer", "const": 2},
			"type": {"type": "integer", "const": 1},
			"owner": {"type": "string"},
			"readers": {"type": "array", "items": {"type": "string"}},
			"timestamp": {"type": "integer", "minimum": 0},
			"files": {"type": "object"},
			"tombstones": {"type": "object"}
		}
	}`,

	FileEntry: `{
		"type": "object",
		"required": ["proto_version", "urls", "data_hash", "timestamp"],
		"properties": {
			"proto_version": {"type": "integer", "const": 2},
			"urls": {"type": "array", "items": {"type": "string"}},
			"data_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
			"timestamp": {"type": "integer", "minimum": 0}
		}
	}`,

	MutationRequest: `{
		"type": "object",
		"required": ["headers", "payloads", "signatures", "tombstones"],
		"properties": {
			"headers": {"type": "array", "items": {"type": "string"}},
			"payloads": {"type": "array", "items": {"type": "string"}},
			"signatures": {"type": "array", "items": {"type": "string"}},
			"tombstones": {"type": "array", "items": {"type": "string"}},
			"datastore_str": {"type": "string"},
			"datastore_sig": {"type": "string"}
		}
	}`,

	MutationResponse: `{
		"type": "object",
		"properties": {
			"status": {"type": "boolean"},
			"urls": {"type": "array", "items": {"type": "string"}}
		}
	}`,

	PutDatastoreResp: `{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "boolean"},
			"data_pubkey": {"type": "string"},
			"root_urls": {"type": "array", "items": {"type": "string"}},
			"datastore_urls": {"type": "array", "items": {"type": "string"}}
		}
	}`,
}
