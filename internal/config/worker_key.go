package config

type WorkerKeyStruct struct {
	ProctorAuditQueue string
}

var WorkerKey = &WorkerKeyStruct{
	ProctorAuditQueue: "proctor_audit_queue",
}
