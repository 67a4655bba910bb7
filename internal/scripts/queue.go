package scripts

// Queue is an immutable FIFO of files. Pop returns a new Queue and leaves the
// receiver untouched, so a state holding a Queue can be copied freely.
type Queue struct {
	files []File
}

// NewQueue returns a queue that yields files in order.
func NewQueue(files ...File) Queue {
	return Queue{files: files}
}

// Pop returns the front file and the rest of the queue.
func (q Queue) Pop() (File, Queue, bool) {
	if len(q.files) == 0 {
		return File{}, q, false
	}
	return q.files[0], Queue{files: q.files[1:]}, true
}

// Len returns the number of files left.
func (q Queue) Len() int {
	return len(q.files)
}
