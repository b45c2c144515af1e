package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
	"github.com/hszk-dev/photoflow/internal/mediaproc"
)

type pipelineFixture struct {
	store  *memStore
	queue  *mockQueue
	refs   *RefCounter
	images *mockImages
	frames *mockFrames
	faces  *mockRecognizer
	svc    PipelineService
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:  newMemStore(),
		queue:  &mockQueue{},
		images: passthroughImages(),
		frames: &mockFrames{},
		faces: &mockRecognizer{
			recognizeFn: func(io.Reader) ([]model.Face, error) {
				return nil, repository.ErrNoFace
			},
		},
	}
	f.refs = NewRefCounter(f.store, f.queue)

	cfg := DefaultPipelineConfig()
	cfg.CompressThreshold = 100
	cfg.TempDir = t.TempDir()
	f.svc = NewPipelineService(f.store, f.queue, f.refs, f.faces, f.images, f.frames, cfg)
	return f
}

func (f *pipelineFixture) imageTask() repository.Task {
	return repository.Task{
		ID:       uuid.New(),
		Stage:    repository.StageCompress,
		Bucket:   "ms-nogroup",
		Key:      model.SourceKey(testBasename),
		MinKey:   model.MinKey(testBasename),
		ThumbKey: model.ThumbKey(testBasename),
		Basename: testBasename,
	}
}

func confidentFace(subject string, similarity float64) model.Face {
	return model.Face{
		Probability: 0.99,
		Subjects:    []model.SubjectMatch{{Subject: subject, Similarity: similarity}},
	}
}

func TestCompressSmallSourceCopiesVerbatim(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.imageTask()
	f.store.seed(task.Bucket, task.Key, []byte("tiny"), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	min := f.store.object(task.Bucket, task.MinKey)
	if min == nil {
		t.Fatal("min variant missing")
	}
	if string(min.data) != "tiny" {
		t.Errorf("min data = %q, want verbatim copy below threshold", min.data)
	}

	srcTags, _ := f.store.GetObjectTags(context.Background(), task.Bucket, task.Key)
	mini, ok := srcTags.Mini()
	if !ok {
		t.Fatal("source has no mini tag")
	}
	if mini.Key != task.MinKey {
		t.Errorf("mini tag = %s, want %s", mini.Key, task.MinKey)
	}

	tasks := f.queue.tasks()
	if len(tasks) != 1 || tasks[0].task.Stage != repository.StageThumbnail {
		t.Fatalf("next stage = %+v, want one thumbnail task", tasks)
	}
}

func TestCompressLargeSourceReencodes(t *testing.T) {
	f := newPipelineFixture(t)
	f.images.compressFn = func(r io.Reader, _ string) ([]byte, error) {
		return []byte("compressed"), nil
	}
	task := f.imageTask()
	f.store.seed(task.Bucket, task.Key, make([]byte, 200), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	min := f.store.object(task.Bucket, task.MinKey)
	if min == nil || string(min.data) != "compressed" {
		t.Fatal("min variant is not the re-encoded output")
	}
}

func TestCompressUnsupportedFormatFallsBackToCopy(t *testing.T) {
	f := newPipelineFixture(t)
	f.images.compressFn = func(io.Reader, string) ([]byte, error) {
		return nil, mediaproc.ErrUnsupportedFormat
	}
	task := f.imageTask()
	f.store.seed(task.Bucket, task.Key, make([]byte, 200), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	min := f.store.object(task.Bucket, task.MinKey)
	if min == nil || len(min.data) != 200 {
		t.Fatal("unsupported format must fall back to a verbatim copy")
	}
}

func TestCompressAlreadyDoneStillChains(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.imageTask()
	f.store.seed(task.Bucket, task.Key, []byte("src"), nil)
	f.store.seed(task.Bucket, task.MinKey, []byte("existing-min"), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	min := f.store.object(task.Bucket, task.MinKey)
	if string(min.data) != "existing-min" {
		t.Error("existing min variant was overwritten")
	}
	tasks := f.queue.tasks()
	if len(tasks) != 1 || tasks[0].task.Stage != repository.StageThumbnail {
		t.Fatal("redelivered compress task must still chain thumbnail")
	}
}

func TestCompressFailureDoesNotChain(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.imageTask()
	// No source object seeded.

	if err := f.svc.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("ProcessTask() error = nil, want stat failure")
	}
	if len(f.queue.tasks()) != 0 {
		t.Error("failed stage must not enqueue its successor")
	}
}

func TestThumbnailStage(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.imageTask()
	task.Stage = repository.StageThumbnail
	f.store.seed(task.Bucket, task.Key, []byte("src"), nil)
	f.store.seed(task.Bucket, task.MinKey, []byte("min-bytes"), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	thumb := f.store.object(task.Bucket, task.ThumbKey)
	if thumb == nil {
		t.Fatal("thumbnail missing")
	}
	if string(thumb.data) != "min-bytes" {
		t.Error("thumbnail input must prefer the min variant")
	}

	tags, _ := f.store.GetObjectTags(context.Background(), task.Bucket, task.ThumbKey)
	src, err := tags.Source()
	if err != nil {
		t.Fatalf("thumbnail source tag: %v", err)
	}
	if src.Key != task.Key {
		t.Errorf("thumbnail source tag = %s, want %s", src.Key, task.Key)
	}
	if _, ok := tags.OriginTime(); !ok {
		t.Error("thumbnail missing origin time tag")
	}
	if tags[model.TagWidth] != "320" || tags[model.TagHeight] != "240" {
		t.Errorf("thumbnail dimensions = %sx%s, want 320x240", tags[model.TagWidth], tags[model.TagHeight])
	}

	tasks := f.queue.tasks()
	if len(tasks) != 1 || tasks[0].task.Stage != repository.StageRecognize {
		t.Fatal("thumbnail must chain recognize")
	}
	if tasks[0].delay == 0 {
		t.Error("recognize must be enqueued with the configured delay")
	}
}

// seedThumbnailed puts the store in post-thumbnail state for a task.
func seedThumbnailed(f *pipelineFixture, task repository.Task) {
	srcTags := model.Tags{}
	srcTags.SetMini(model.ObjectPath{Bucket: task.Bucket, Key: task.MinKey})
	f.store.seed(task.Bucket, task.Key, []byte("src"), srcTags)
	f.store.seed(task.Bucket, task.MinKey, []byte("min"), nil)

	thumbTags := model.Tags{}
	thumbTags.SetSource(model.ObjectPath{Bucket: task.Bucket, Key: task.Key})
	f.store.seed(task.Bucket, task.ThumbKey, []byte("thumb"), thumbTags)
}

func TestRecognizeConfidentSubject(t *testing.T) {
	f := newPipelineFixture(t)
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		return []model.Face{confidentFace("Alice", 0.97)}, nil
	}
	task := f.imageTask()
	task.Stage = repository.StageRecognize
	seedThumbnailed(f, task)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	if !f.store.has("ms-alice", task.ThumbKey) {
		t.Fatal("classified copy missing from subject bucket")
	}

	srcTags, _ := f.store.GetObjectTags(context.Background(), task.Bucket, task.Key)
	set := srcTags.Refs()
	if !set.Contains(model.ObjectPath{Bucket: "ms-alice", Key: task.ThumbKey}) {
		t.Errorf("canonical refs = %q, want subject copy recorded", set.String())
	}

	// Intake variants are gone, the canonical source stays.
	if f.store.has(task.Bucket, task.MinKey) || f.store.has(task.Bucket, task.ThumbKey) {
		t.Error("intake variants must be removed after classification")
	}
	if !f.store.has(task.Bucket, task.Key) {
		t.Error("canonical source must survive classification")
	}
}

func TestRecognizeNoFaceGoesToOther(t *testing.T) {
	f := newPipelineFixture(t)
	task := f.imageTask()
	task.Stage = repository.StageRecognize
	seedThumbnailed(f, task)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	if !f.store.has("ms-other", task.ThumbKey) {
		t.Error("faceless item must land in the other bucket")
	}
}

func TestRecognizeUnconfidentGoesToNeedRecognition(t *testing.T) {
	f := newPipelineFixture(t)
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		return []model.Face{confidentFace("Alice", 0.80)}, nil
	}
	task := f.imageTask()
	task.Stage = repository.StageRecognize
	seedThumbnailed(f, task)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	if !f.store.has("ms-needrecognition", task.ThumbKey) {
		t.Fatal("unconfident item must land in need-recognition")
	}
	if f.store.has("ms-alice", task.ThumbKey) {
		t.Error("unconfident match must not reach a subject bucket")
	}
	if !f.store.has("ms-needrecognition", task.MinKey) {
		t.Error("min variant must accompany the item for later re-recognition")
	}
}

func TestRecognizeMixedConfidence(t *testing.T) {
	f := newPipelineFixture(t)
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		return []model.Face{
			confidentFace("Alice", 0.97),
			confidentFace("Bob", 0.80),
		}, nil
	}
	task := f.imageTask()
	task.Stage = repository.StageRecognize
	seedThumbnailed(f, task)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	if !f.store.has("ms-alice", task.ThumbKey) {
		t.Error("confident subject copy missing")
	}
	if !f.store.has("ms-needrecognition", task.ThumbKey) {
		t.Error("unconfident face must also place the item in need-recognition")
	}

	srcTags, _ := f.store.GetObjectTags(context.Background(), task.Bucket, task.Key)
	if got := srcTags.Refs().Len(); got != 2 {
		t.Errorf("canonical refs = %d, want 2", got)
	}
}

func TestReRecognitionResolved(t *testing.T) {
	f := newPipelineFixture(t)
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		return []model.Face{confidentFace("Alice", 0.97)}, nil
	}

	// First pass left the item in need-recognition.
	canonical := model.ObjectPath{Bucket: "ms-nogroup", Key: model.SourceKey(testBasename)}
	needRec := "ms-needrecognition"
	thumbKey := model.ThumbKey(testBasename)

	srcTags := model.Tags{}
	refs := model.RefSet{}
	refs.Add(model.ObjectPath{Bucket: needRec, Key: thumbKey})
	srcTags.SetRefs(refs)
	f.store.seed(canonical.Bucket, canonical.Key, []byte("src"), srcTags)

	thumbTags := model.Tags{}
	thumbTags.SetSource(canonical)
	f.store.seed(needRec, thumbKey, []byte("thumb"), thumbTags)
	f.store.seed(needRec, model.MinKey(testBasename), []byte("min"), nil)

	task := repository.Task{
		ID:            uuid.New(),
		Stage:         repository.StageRecognize,
		Bucket:        needRec,
		MinKey:        model.MinKey(testBasename),
		ThumbKey:      thumbKey,
		Basename:      testBasename,
		ReRecognition: true,
	}
	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	if !f.store.has("ms-alice", thumbKey) {
		t.Fatal("resolved item missing from subject bucket")
	}
	if f.store.has(needRec, thumbKey) || f.store.has(needRec, task.MinKey) {
		t.Error("resolved item must leave the need-recognition bucket")
	}

	canonicalTags, _ := f.store.GetObjectTags(context.Background(), canonical.Bucket, canonical.Key)
	set := canonicalTags.Refs()
	if set.Contains(model.ObjectPath{Bucket: needRec, Key: thumbKey}) {
		t.Error("released need-recognition ref still recorded")
	}
	if !set.Contains(model.ObjectPath{Bucket: "ms-alice", Key: thumbKey}) {
		t.Error("subject ref not recorded")
	}
}

func TestReRecognitionStillUnconfident(t *testing.T) {
	f := newPipelineFixture(t)
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		return []model.Face{confidentFace("Alice", 0.80)}, nil
	}

	canonical := model.ObjectPath{Bucket: "ms-nogroup", Key: model.SourceKey(testBasename)}
	needRec := "ms-needrecognition"
	thumbKey := model.ThumbKey(testBasename)

	srcTags := model.Tags{}
	refs := model.RefSet{}
	refs.Add(model.ObjectPath{Bucket: needRec, Key: thumbKey})
	srcTags.SetRefs(refs)
	f.store.seed(canonical.Bucket, canonical.Key, []byte("src"), srcTags)

	thumbTags := model.Tags{}
	thumbTags.SetSource(canonical)
	f.store.seed(needRec, thumbKey, []byte("thumb"), thumbTags)

	task := repository.Task{
		ID:            uuid.New(),
		Stage:         repository.StageRecognize,
		Bucket:        needRec,
		ThumbKey:      thumbKey,
		Basename:      testBasename,
		ReRecognition: true,
	}
	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	if !f.store.has(needRec, thumbKey) {
		t.Error("still-unconfident item must stay in need-recognition")
	}
}

func TestVideoStage(t *testing.T) {
	f := newPipelineFixture(t)

	const videoBase = "VIDEO__1700000000000.mp4"
	task := repository.Task{
		ID:       uuid.New(),
		Stage:    repository.StageVideo,
		Bucket:   "ms-video",
		Key:      model.SourceKey(videoBase),
		ThumbKey: model.ThumbKey(videoBase),
		Basename: videoBase,
	}
	f.store.seed(task.Bucket, task.Key, []byte("video-bytes"), nil)

	f.frames.extractFn = func(_, outputDir string, _ int) ([]string, error) {
		var paths []string
		for i := 0; i < 2; i++ {
			p := filepath.Join(outputDir, fmt.Sprintf("frame%d.jpg", i))
			if err := os.WriteFile(p, []byte("frame"), 0644); err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		return paths, nil
	}

	frameResults := [][]model.Face{
		{confidentFace("Alice", 0.97)},
		{confidentFace("Bob", 0.98), confidentFace("Alice", 0.96)},
	}
	call := 0
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		faces := frameResults[call%len(frameResults)]
		call++
		return faces, nil
	}

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	aliceKey := task.ThumbKey + "/alice.jpg"
	bobKey := task.ThumbKey + "/bob.jpg"
	if !f.store.has("ms-alice", aliceKey) {
		t.Error("alice frame copy missing")
	}
	if !f.store.has("ms-bob", bobKey) {
		t.Error("bob frame copy missing")
	}

	srcTags, _ := f.store.GetObjectTags(context.Background(), task.Bucket, task.Key)
	set := srcTags.Refs()
	if set.Len() != 2 {
		t.Errorf("canonical refs = %q, want one ref per subject", set.String())
	}

	// Canonical frame thumbnails stay in the video bucket, tagged back to
	// the video source.
	frameTags, err := f.store.GetObjectTags(context.Background(), task.Bucket, aliceKey)
	if err != nil {
		t.Fatalf("frame thumb tags: %v", err)
	}
	src, err := frameTags.Source()
	if err != nil {
		t.Fatalf("frame thumb source tag: %v", err)
	}
	if src.Key != task.Key {
		t.Errorf("frame thumb source = %s, want %s", src.Key, task.Key)
	}
}

func TestVideoNoFaces(t *testing.T) {
	f := newPipelineFixture(t)

	const videoBase = "VIDEO__1700000000000.mp4"
	task := repository.Task{
		ID:       uuid.New(),
		Stage:    repository.StageVideo,
		Bucket:   "ms-video",
		Key:      model.SourceKey(videoBase),
		ThumbKey: model.ThumbKey(videoBase),
		Basename: videoBase,
	}
	f.store.seed(task.Bucket, task.Key, []byte("video-bytes"), nil)

	f.frames.extractFn = func(_, outputDir string, _ int) ([]string, error) {
		p := filepath.Join(outputDir, "frame0.jpg")
		if err := os.WriteFile(p, []byte("frame"), 0644); err != nil {
			return nil, err
		}
		return []string{p}, nil
	}

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	if !f.store.has("ms-other", task.ThumbKey+"/unmatched.jpg") {
		t.Error("faceless video must land in the other bucket")
	}
}

func TestCleanupStage(t *testing.T) {
	f := newPipelineFixture(t)
	task := repository.Task{
		ID:       uuid.New(),
		Stage:    repository.StageCleanup,
		Bucket:   "ms-video",
		MinKey:   model.MinKey(testBasename),
		ThumbKey: model.ThumbKey(testBasename),
		Basename: testBasename,
	}
	f.store.seed(task.Bucket, task.MinKey, []byte("min"), nil)
	f.store.seed(task.Bucket, task.ThumbKey, []byte("thumb"), nil)
	f.store.seed(task.Bucket, task.ThumbKey+"/alice.jpg", []byte("frame"), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	for _, key := range []string{task.MinKey, task.ThumbKey, task.ThumbKey + "/alice.jpg"} {
		if f.store.has(task.Bucket, key) {
			t.Errorf("%s not reclaimed", key)
		}
	}
}

func TestUnknownStage(t *testing.T) {
	f := newPipelineFixture(t)
	task := repository.Task{ID: uuid.New(), Stage: "mystery"}
	if err := f.svc.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("ProcessTask() error = nil, want unknown stage failure")
	}
}

func TestRecognizeFailurePropagates(t *testing.T) {
	f := newPipelineFixture(t)
	f.faces.recognizeFn = func(io.Reader) ([]model.Face, error) {
		return nil, errors.New("recognition service down")
	}
	task := f.imageTask()
	task.Stage = repository.StageRecognize
	seedThumbnailed(f, task)

	if err := f.svc.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("ProcessTask() error = nil, want service failure")
	}
	if f.store.has("ms-other", task.ThumbKey) {
		t.Error("failed recognition must not classify the item")
	}
}

func TestThumbnailUndecodableDivertsToOthers(t *testing.T) {
	f := newPipelineFixture(t)
	f.images.thumbnailFn = func(r io.Reader, size int) (mediaproc.ThumbnailResult, error) {
		return mediaproc.ThumbnailResult{}, mediaproc.ErrUnsupportedFormat
	}

	task := f.imageTask()
	task.Stage = repository.StageThumbnail
	f.store.seed(task.Bucket, task.Key, []byte("vector-bytes"), nil)
	f.store.seed(task.Bucket, task.MinKey, []byte("vector-bytes"), nil)

	if err := f.svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	diverted := f.store.object(model.OthersBucket, task.Basename)
	if diverted == nil {
		t.Fatal("undecodable source must land in the others bucket")
	}
	if string(diverted.data) != "vector-bytes" {
		t.Error("diverted object must carry the source bytes verbatim")
	}
	if f.store.has(task.Bucket, task.Key) || f.store.has(task.Bucket, task.MinKey) {
		t.Error("intake variants must be reclaimed")
	}
	if f.store.has(task.Bucket, task.ThumbKey) {
		t.Error("no thumbnail must be written for an undecodable source")
	}
	if got := len(f.queue.tasks()); got != 0 {
		t.Errorf("enqueued tasks = %d, want none after a divert", got)
	}
}
