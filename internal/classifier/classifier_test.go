package classifier

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/core"
)

type fakeEmailStore struct {
	examples []core.TrainingExample
}

func (f *fakeEmailStore) SaveEmail(ctx context.Context, e *core.Email) error   { return nil }
func (f *fakeEmailStore) UpdateEmail(ctx context.Context, e *core.Email) error { return nil }
func (f *fakeEmailStore) GetEmail(ctx context.Context, id uuid.UUID) (*core.Email, error) {
	return nil, core.ErrEmailNotFound
}
func (f *fakeEmailStore) ListEmails(ctx context.Context) ([]*core.Email, error) { return nil, nil }
func (f *fakeEmailStore) ListTrainingExamples(ctx context.Context) ([]core.TrainingExample, error) {
	return f.examples, nil
}

type fakeModelStore struct {
	snapshots []*core.ModelSnapshot
}

func (f *fakeModelStore) SaveSnapshot(ctx context.Context, s *core.ModelSnapshot) error {
	f.snapshots = append(f.snapshots, s)
	return nil
}

func (f *fakeModelStore) LatestSnapshot(ctx context.Context) (*core.ModelSnapshot, error) {
	var latest *core.ModelSnapshot
	for _, s := range f.snapshots {
		if latest == nil || s.Version > latest.Version {
			latest = s
		}
	}
	if latest == nil {
		return nil, core.ErrNoSnapshot
	}
	return latest, nil
}

type staticChecker bool

func (s staticChecker) IsActive(ctx context.Context, sender string) bool { return bool(s) }

// trainingCorpus labels policy-violation text around credential and payroll
// exfiltration, benign text around routine office chatter.
func trainingCorpus() []core.TrainingExample {
	violations := []string{
		"wire transfer payroll account credentials attached outside immediately",
		"password spreadsheet customer records uploaded personal dropbox tonight",
		"confidential salary database exported external drive without approval",
		"social security numbers forwarded personal gmail address yesterday",
		"credentials shared unencrypted channel finance system access token",
		"sensitive contract pricing leaked competitor mailbox urgent cover",
		"payroll export copied home laptop outside company network",
		"customer card numbers pasted chat thread unmasked fully",
	}
	benign := []string{
		"team lunch scheduled friday noon cafeteria downstairs everyone welcome",
		"monthly newsletter highlights product launch community volunteering photos",
		"meeting moved tomorrow morning conference room calendar updated",
		"reminder submit timesheet before Monday holiday schedule attached",
		"parking garage closed weekend maintenance please street level",
		"welcome aboard newest engineer introductions coffee social thursday",
		"quarterly review slides drafted feedback welcome before thursday",
		"office plants watering rotation signup sheet kitchen wall",
	}

	examples := make([]core.TrainingExample, 0, len(violations)+len(benign))
	for _, text := range violations {
		examples = append(examples, core.TrainingExample{Text: text, Label: core.CategoryPolicyViolation})
	}
	for _, text := range benign {
		examples = append(examples, core.TrainingExample{Text: text, Label: core.CategoryBenign})
	}
	return examples
}

func trainSnapshot(t *testing.T) *core.ModelSnapshot {
	t.Helper()
	trainer := NewTrainer(&fakeEmailStore{examples: trainingCorpus()}, &fakeModelStore{}, zap.NewNop(), 10, 25)
	snapshot, err := trainer.Retrain(context.Background())
	require.NoError(t, err)
	return snapshot
}

func TestClassifyWithoutSnapshotFallsBack(t *testing.T) {
	c := NewClassifier(staticChecker(false), zap.NewNop(), 0.6)

	email := &core.Email{Sender: "a@b.com", Subject: "anything", Body: "at all"}
	result := c.Classify(context.Background(), email, nil)

	assert.Equal(t, core.CategoryUnknown, result.Category)
	assert.Equal(t, 0.0, result.Score)
}

func TestClassifyIsDeterministic(t *testing.T) {
	snapshot := trainSnapshot(t)
	c := NewClassifier(staticChecker(false), zap.NewNop(), 0.6)

	email := &core.Email{
		Sender:  "x@corp.com",
		Subject: "payroll transfer",
		Body:    "credentials and account numbers attached for wire",
	}

	first := c.Classify(context.Background(), email, snapshot)
	for i := 0; i < 10; i++ {
		again := c.Classify(context.Background(), email, snapshot)
		assert.Equal(t, first, again)
	}
}

func TestClassifySeparatesRiskyFromRoutine(t *testing.T) {
	snapshot := trainSnapshot(t)
	c := NewClassifier(staticChecker(false), zap.NewNop(), 0.6)

	risky := &core.Email{
		Sender:  "x@corp.com",
		Subject: "payroll credentials",
		Body:    "wire transfer account password exported outside",
	}
	routine := &core.Email{
		Sender:  "y@corp.com",
		Subject: "team lunch",
		Body:    "cafeteria friday noon everyone welcome",
	}

	riskyResult := c.Classify(context.Background(), risky, snapshot)
	routineResult := c.Classify(context.Background(), routine, snapshot)

	assert.Equal(t, core.CategoryPolicyViolation, riskyResult.Category)
	assert.Equal(t, core.CategoryBenign, routineResult.Category)
	assert.Greater(t, riskyResult.Score, routineResult.Score)
	assert.GreaterOrEqual(t, riskyResult.Score, 0.75)
}

func TestClassifyScoreStaysInRange(t *testing.T) {
	snapshot := trainSnapshot(t)
	c := NewClassifier(staticChecker(false), zap.NewNop(), 0.6)

	for _, text := range []string{"", "wire wire wire wire wire", "completely novel tokens zzz qqq"} {
		result := c.Classify(context.Background(), &core.Email{Subject: text}, snapshot)
		assert.GreaterOrEqual(t, result.Score, 0.0)
		assert.LessOrEqual(t, result.Score, 1.0)
	}
}

func TestClassifyFlaggedSenderFloor(t *testing.T) {
	snapshot := trainSnapshot(t)
	c := NewClassifier(staticChecker(true), zap.NewNop(), 0.6)

	email := &core.Email{
		Sender:  "flagged@evil.com",
		Subject: "team lunch",
		Body:    "cafeteria friday noon everyone welcome",
	}

	result := c.Classify(context.Background(), email, snapshot)
	assert.GreaterOrEqual(t, result.Score, 0.6)
	assert.NotEqual(t, core.CategoryBenign, result.Category)
}

func TestRetrainRejectsSmallCorpus(t *testing.T) {
	emails := &fakeEmailStore{examples: trainingCorpus()[:3]}
	trainer := NewTrainer(emails, &fakeModelStore{}, zap.NewNop(), 10, 25)

	_, err := trainer.Retrain(context.Background())
	assert.ErrorIs(t, err, core.ErrInsufficientTrainingData)
}

func TestRetrainRejectsDegenerateVocabulary(t *testing.T) {
	examples := make([]core.TrainingExample, 12)
	for i := range examples {
		examples[i] = core.TrainingExample{Text: "same words repeated", Label: core.CategoryBenign}
	}
	trainer := NewTrainer(&fakeEmailStore{examples: examples}, &fakeModelStore{}, zap.NewNop(), 10, 25)

	_, err := trainer.Retrain(context.Background())
	assert.ErrorIs(t, err, core.ErrDegenerateVocabulary)
}

func TestRetrainIgnoresUnknownLabels(t *testing.T) {
	examples := append(trainingCorpus(), core.TrainingExample{Text: "bogus label row", Label: "mystery"})
	trainer := NewTrainer(&fakeEmailStore{examples: examples}, &fakeModelStore{}, zap.NewNop(), 10, 25)

	snapshot, err := trainer.Retrain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(trainingCorpus()), snapshot.TrainingSize)
	assert.NotContains(t, snapshot.Categories, "mystery")
}

func TestRetrainVersionsIncrement(t *testing.T) {
	models := &fakeModelStore{}
	trainer := NewTrainer(&fakeEmailStore{examples: trainingCorpus()}, models, zap.NewNop(), 10, 25)

	first, err := trainer.Retrain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)

	require.NoError(t, models.SaveSnapshot(context.Background(), first))

	second, err := trainer.Retrain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
}

func TestSnapshotProviderPublishAndCurrent(t *testing.T) {
	p := NewSnapshotProvider(zap.NewNop())
	assert.Nil(t, p.Current())

	s1 := &core.ModelSnapshot{ID: uuid.New(), Version: 1}
	s2 := &core.ModelSnapshot{ID: uuid.New(), Version: 2}
	p.Publish(s1)
	p.Publish(s2)

	assert.Equal(t, int64(2), p.Current().Version)
}

func TestSnapshotProviderConcurrentAccess(t *testing.T) {
	p := NewSnapshotProvider(zap.NewNop())
	p.Publish(&core.ModelSnapshot{ID: uuid.New(), Version: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		version := int64(i + 2)
		go func() {
			defer wg.Done()
			p.Publish(&core.ModelSnapshot{ID: uuid.New(), Version: version})
		}()
		go func() {
			defer wg.Done()
			current := p.Current()
			require.NotNil(t, current)
			assert.GreaterOrEqual(t, current.Version, int64(1))
		}()
	}
	wg.Wait()
}

func TestSnapshotProviderLoadLatestToleratesEmptyStore(t *testing.T) {
	p := NewSnapshotProvider(zap.NewNop())
	require.NoError(t, p.LoadLatest(context.Background(), &fakeModelStore{}))
	assert.Nil(t, p.Current())
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("The Quick a I to From wire-transfer OK payroll")
	assert.Contains(t, tokens, "wire")
	assert.Contains(t, tokens, "transfer")
	assert.Contains(t, tokens, "payroll")
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "to")
	assert.NotContains(t, tokens, "a")
}
