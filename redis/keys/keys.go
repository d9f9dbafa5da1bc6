// Package keys centralizes Redis key derivation so every store agrees on
// the wire format documented in spec.md §6 "Redis key conventions".
package keys

import "fmt"

// Thread-related keys.

// ThreadMessages is the list key holding a thread's ordered messages.
func ThreadMessages(threadID string) string { return fmt.Sprintf("sre:thread:%s:messages", threadID) }

// ThreadContext is the hash key holding a thread's context map.
func ThreadContext(threadID string) string { return fmt.Sprintf("sre:thread:%s:context", threadID) }

// ThreadMetadata is the hash key holding a thread's metadata.
func ThreadMetadata(threadID string) string { return fmt.Sprintf("sre:thread:%s:metadata", threadID) }

// ThreadStatus is the string key holding a thread's status (legacy parity).
func ThreadStatus(threadID string) string { return fmt.Sprintf("sre:thread:%s:status", threadID) }

// ThreadActionItems is the list key holding a thread's action items.
func ThreadActionItems(threadID string) string {
	return fmt.Sprintf("sre:thread:%s:action_items", threadID)
}

// ThreadResult is the string key holding a thread's last synthesized result.
func ThreadResult(threadID string) string { return fmt.Sprintf("sre:thread:%s:result", threadID) }

// ThreadError is the string key holding a thread's last error, if any.
func ThreadError(threadID string) string { return fmt.Sprintf("sre:thread:%s:error", threadID) }

// ThreadTasks is the sorted-set key indexing a thread's tasks by creation time.
func ThreadTasks(threadID string) string { return fmt.Sprintf("sre:thread:%s:tasks", threadID) }

// ThreadsIndex is the global sorted-set key of threads by updated timestamp.
func ThreadsIndex() string { return "sre:threads:index" }

// ThreadsUserIndex is the per-user sorted-set key of threads by updated timestamp.
func ThreadsUserIndex(userID string) string { return fmt.Sprintf("sre:threads:user:%s", userID) }

// ThreadSearchDoc is the search-index backing hash for a thread.
func ThreadSearchDoc(threadID string) string { return fmt.Sprintf("sre_threads:%s", threadID) }

// Task-related keys.

// TaskStatus is the string key holding a task's status.
func TaskStatus(taskID string) string { return fmt.Sprintf("sre:task:%s:status", taskID) }

// TaskUpdates is the list key holding a task's ordered progress updates.
func TaskUpdates(taskID string) string { return fmt.Sprintf("sre:task:%s:updates", taskID) }

// TaskResult is the string key holding a task's final result JSON.
func TaskResult(taskID string) string { return fmt.Sprintf("sre:task:%s:result", taskID) }

// TaskError is the string key holding a task's error message.
func TaskError(taskID string) string { return fmt.Sprintf("sre:task:%s:error", taskID) }

// TaskMetadata is the hash key holding a task's metadata.
func TaskMetadata(taskID string) string { return fmt.Sprintf("sre:task:%s:metadata", taskID) }

// Stream keys.

// StreamTask is the Redis Stream key carrying a task's typed update events.
func StreamTask(taskID string) string { return fmt.Sprintf("sre:stream:task:%s", taskID) }

// Knowledge base keys.

// KnowledgeDocument is the hash key for a knowledge base document.
func KnowledgeDocument(docID string) string { return fmt.Sprintf("sre_knowledge:%s", docID) }

// KnowledgeChunk is the hash key for a specific document chunk.
func KnowledgeChunk(documentHash string, chunkIndex int) string {
	return fmt.Sprintf("sre_knowledge:%s:chunk:%d", documentHash, chunkIndex)
}

// KnowledgeChunkPattern matches every chunk key for a document.
func KnowledgeChunkPattern(documentHash string) string {
	return fmt.Sprintf("sre_knowledge:%s:chunk:*", documentHash)
}

// Instance keys.

// InstancesLegacy is the legacy plaintext JSON list of instances.
func InstancesLegacy() string { return "sre:instances" }

// Instance is the search-index backing hash for a single instance.
func Instance(instanceID string) string { return fmt.Sprintf("sre_instances:%s", instanceID) }

// Q&A keys.

// QA is the hash key for a single Q&A record.
func QA(qaID string) string { return fmt.Sprintf("sre:qa:%s", qaID) }

// QAByThread is the set key listing Q&A ids recorded under a thread.
func QAByThread(threadID string) string { return fmt.Sprintf("sre:thread:%s:qa", threadID) }

// QAByUser is the set key listing Q&A ids recorded under a user.
func QAByUser(userID string) string { return fmt.Sprintf("sre:user:%s:qa", userID) }

// QAByTask is the set key listing Q&A ids recorded under a task.
func QAByTask(taskID string) string { return fmt.Sprintf("sre:task:%s:qa", taskID) }

// TaskQueue is the list key the Task Runner leases queued task ids from.
func TaskQueue() string { return "sre:tasks:queue" }

// ThreadTTL and TaskTTL. Every key created for a thread or task shares this
// lifetime; see spec.md §3.
const (
	ThreadTTLSeconds = 86400
	TaskTTLSeconds   = 86400
	StreamTTLSeconds = 86400
)
