package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/showsync/recs/internal/algo"
	"github.com/showsync/recs/internal/config"
	"github.com/showsync/recs/pkg/models"
)

// dismissalSuppressionWindow keeps media the user dismissed today out of the
// next generation run.
const dismissalSuppressionWindow = 24 * time.Hour

// DismissalLookup is the slice of the store the generator needs for
// suppression.
type DismissalLookup interface {
	RecentlyDismissedMediaIDs(ctx context.Context, userID uuid.UUID, since time.Time) (map[uuid.UUID]struct{}, error)
}

// GeneratorService turns profiles and candidates into ranked, diversified,
// explained recommendation batches. It never writes; persisting a batch is
// the store's job so per-user serialization stays in one place.
type GeneratorService struct {
	catalog       CatalogReader
	profiles      *ProfileBuilderService
	collaborative *CollaborativeService
	trending      *TrendingService
	dismissals    DismissalLookup
	config        *config.RecommendationConfig
	logger        *logrus.Logger

	titleCaser cases.Caser
}

func NewGeneratorService(
	catalog CatalogReader,
	profiles *ProfileBuilderService,
	collaborative *CollaborativeService,
	trending *TrendingService,
	dismissals DismissalLookup,
	cfg *config.RecommendationConfig,
	logger *logrus.Logger,
) *GeneratorService {
	return &GeneratorService{
		catalog:       catalog,
		profiles:      profiles,
		collaborative: collaborative,
		trending:      trending,
		dismissals:    dismissals,
		config:        cfg,
		logger:        logger,
		titleCaser:    cases.Title(language.English),
	}
}

// scoreBreakdown records the weighted terms so reason assignment can pick the
// dominant contribution.
type scoreBreakdown struct {
	genre    float64
	rating   float64
	platform float64
	era      float64
}

func (b scoreBreakdown) total() float64 {
	return b.genre + b.rating + b.platform + b.era
}

// scoreMedia evaluates the four-term scoring function for one candidate.
func (s *GeneratorService) scoreMedia(m *models.Media, p *models.PreferenceProfile) scoreBreakdown {
	w := s.config.Weights

	genreVec := make(map[string]float64, len(m.Genres))
	for _, g := range m.Genres {
		genreVec[g] = 1.0
	}
	genreMatch := algo.CosineSimilarity(genreVec, p.GenreWeights)

	ratingFit := 0.5
	if m.AverageRating != nil && p.AvgRating > 0 {
		ratingFit = 1 - math.Abs(*m.AverageRating/10.0-p.AvgRating/10.0)
	}

	platformMatch := 0.0
	if m.Platform != "" {
		platformMatch = p.PlatformWeights[m.Platform]
	}

	eraMatch := 0.0
	if era := m.Era(); era != "" {
		eraMatch = p.EraWeights[era]
	}

	return scoreBreakdown{
		genre:    w.Genre * genreMatch,
		rating:   w.Rating * ratingFit,
		platform: w.Platform * platformMatch,
		era:      w.Era * eraMatch,
	}
}

// explorationNoise is a deterministic perturbation in [-1,1] seeded by
// (userID, UTC date, mediaID). Stable within a day, fresh across days.
func explorationNoise(userID, mediaID uuid.UUID, day string) float64 {
	h := fnv.New64a()
	h.Write([]byte(userID.String()))
	h.Write([]byte(day))
	h.Write([]byte(mediaID.String()))
	return float64(h.Sum64()%2000)/1000.0 - 1.0
}

// adjustScore applies the personalization boost and exploration perturbation
// on top of the raw weighted score.
func (s *GeneratorService) adjustScore(raw float64, userID, mediaID uuid.UUID, confidence float64, now time.Time) float64 {
	boosted := raw * (1 + s.config.Factors.Personalization*confidence)
	noise := explorationNoise(userID, mediaID, now.UTC().Format("2006-01-02"))
	return boosted + s.config.Factors.Exploration*noise*0.1
}

type scoredCandidate struct {
	media     models.Media
	score     float64
	breakdown scoreBreakdown
}

// diversify greedily selects k candidates maximizing
// score - lambda * maxOverlap(candidate, selected), overlap being Jaccard on
// genre tags. Prevents genre monocultures in the final list.
func diversify(candidates []scoredCandidate, k int, lambda float64) []scoredCandidate {
	if len(candidates) <= k || lambda <= 0 {
		sortCandidates(candidates)
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates
	}

	sortCandidates(candidates)
	remaining := make([]scoredCandidate, len(candidates))
	copy(remaining, candidates)

	selected := make([]scoredCandidate, 0, k)
	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestValue := math.Inf(-1)
		for i, c := range remaining {
			maxOverlap := 0.0
			for _, sel := range selected {
				overlap := algo.JaccardSimilarity(c.media.Genres, sel.media.Genres)
				if overlap > maxOverlap {
					maxOverlap = overlap
				}
			}
			value := c.score - lambda*maxOverlap
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func sortCandidates(cs []scoredCandidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].score != cs[j].score {
			return cs[i].score > cs[j].score
		}
		return cs[i].media.ID.String() < cs[j].media.ID.String()
	})
}

func sortScoredMedia(sm []models.ScoredMedia) {
	sort.Slice(sm, func(i, j int) bool {
		if sm[i].Score != sm[j].Score {
			return sm[i].Score > sm[j].Score
		}
		return sm[i].Media.ID.String() < sm[j].Media.ID.String()
	})
}

// assignReason picks the dominant weighted term and renders its explanation
// template.
func (s *GeneratorService) assignReason(c scoredCandidate, p *models.PreferenceProfile) (models.RecommendationReason, string) {
	b := c.breakdown
	topGenre := ""
	if top := p.TopGenres(1); len(top) > 0 {
		topGenre = s.titleCaser.String(strings.ToLower(top[0].Genre))
	}

	switch {
	case b.genre >= b.rating && b.genre >= b.platform && b.genre >= b.era && topGenre != "":
		return models.ReasonGenreMatch, fmt.Sprintf("Based on your love for %s", topGenre)
	case b.rating >= b.platform && b.rating >= b.era:
		return models.ReasonHighlyRated, fmt.Sprintf("Highly rated by viewers like you: %s", c.media.Title)
	case b.platform >= b.era && c.media.Platform != "":
		return models.ReasonGeneral, fmt.Sprintf("Popular on %s, where you watch most", c.media.Platform)
	case c.media.Era() != "":
		return models.ReasonGeneral, fmt.Sprintf("From the %s, an era you enjoy", c.media.Era())
	default:
		return models.ReasonGeneral, "Picked for you"
	}
}

// GeneratePersonal is the primary mode: score the candidate pool against the
// user's profile, diversify, and return a batch ready for the store. Cold
// start falls back to trending with an explicit low-confidence explanation.
func (s *GeneratorService) GeneratePersonal(ctx context.Context, userID uuid.UUID, count int) ([]models.ContentRecommendation, error) {
	profile, err := s.profiles.GetOrBuildProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !profile.HasSufficientData(s.config.Thresholds.MinInteractionsForConfidence, s.config.Thresholds.MinConfidenceToPersonalize) {
		return s.generateColdStart(ctx, userID, count)
	}

	candidates, err := s.catalog.CandidateMedia(ctx, userID, s.config.Caps.CandidatePool)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	candidates, err = s.suppressDismissed(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	scored := make([]scoredCandidate, 0, len(candidates))
	for i := range candidates {
		m := candidates[i]
		b := s.scoreMedia(&m, profile)
		scored = append(scored, scoredCandidate{
			media:     m,
			score:     s.adjustScore(b.total(), userID, m.ID, profile.Confidence, now),
			breakdown: b,
		})
	}

	// Score 3x the requested count, then diversify down to count.
	sortCandidates(scored)
	if len(scored) > count*3 {
		scored = scored[:count*3]
	}
	selected := diversify(scored, count, s.config.Factors.Diversity)

	out := make([]models.ContentRecommendation, 0, len(selected))
	for _, c := range selected {
		reason, explanation := s.assignReason(c, profile)
		out = append(out, s.newContentRec(userID, c, reason, explanation, models.TypePersonal, now))
	}
	return out, nil
}

func (s *GeneratorService) generateColdStart(ctx context.Context, userID uuid.UUID, count int) ([]models.ContentRecommendation, error) {
	trending, err := s.trending.TrendingMedia(ctx, count*2)
	if err != nil {
		return nil, fmt.Errorf("failed to load trending fallback: %w", err)
	}

	library, err := s.catalog.UserMediaIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]models.ContentRecommendation, 0, count)
	for _, sm := range trending {
		if _, owned := library[sm.Media.ID]; owned {
			continue
		}
		c := scoredCandidate{media: sm.Media, score: sm.Score}
		rec := s.newContentRec(userID, c, models.ReasonTrendingGlobal,
			"Currently trending on ShowSync; rate a few titles to unlock personal picks",
			models.TypeTrending, now)
		out = append(out, rec)
		if len(out) == count {
			break
		}
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"count":   len(out),
	}).Debug("Cold-start generation served from trending")
	return out, nil
}

func (s *GeneratorService) newContentRec(
	userID uuid.UUID,
	c scoredCandidate,
	reason models.RecommendationReason,
	explanation string,
	recType models.RecommendationType,
	now time.Time,
) models.ContentRecommendation {
	media := c.media
	return models.ContentRecommendation{
		ID:          uuid.New(),
		UserID:      userID,
		MediaID:     media.ID,
		Score:       c.score,
		Reason:      reason,
		Explanation: explanation,
		Type:        recType,
		CreatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, s.config.TTL.ContentDays),
		Media:       &media,
	}
}

func (s *GeneratorService) suppressDismissed(ctx context.Context, userID uuid.UUID, candidates []models.Media) ([]models.Media, error) {
	if s.dismissals == nil {
		return candidates, nil
	}
	dismissed, err := s.dismissals.RecentlyDismissedMediaIDs(ctx, userID, time.Now().Add(-dismissalSuppressionWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load recent dismissals: %w", err)
	}
	if len(dismissed) == 0 {
		return candidates, nil
	}
	filtered := candidates[:0]
	for _, m := range candidates {
		if _, skip := dismissed[m.ID]; !skip {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

// GenerateCollaborative surfaces what taste neighbors rated highly,
// weighted by compatibility.
func (s *GeneratorService) GenerateCollaborative(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoredMedia, error) {
	neighbors, err := s.collaborative.SimilarUsers(ctx, userID, 20)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	candidates, err := s.collaborative.NeighborCandidates(ctx, userID, neighbors, limit)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Reason = models.ReasonSimilarUsers
		candidates[i].Explanation = "Viewers with similar taste loved this"
	}
	return candidates, nil
}

// GenerateContentBased finds media sharing genre tags with the anchor,
// ranked by tag overlap blended with catalog rating. Backs the
// "similar to X" surface.
func (s *GeneratorService) GenerateContentBased(ctx context.Context, userID, anchorID uuid.UUID, limit int) ([]models.ScoredMedia, error) {
	if !s.config.Features.ContentBased {
		return nil, nil
	}

	anchor, err := s.catalog.MediaByID(ctx, anchorID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.catalog.CandidateMedia(ctx, userID, s.config.Caps.CandidatePool)
	if err != nil {
		return nil, err
	}

	out := make([]models.ScoredMedia, 0, limit)
	for _, m := range candidates {
		if m.ID == anchorID {
			continue
		}
		overlap := algo.JaccardSimilarity(anchor.Genres, m.Genres)
		if overlap == 0 {
			continue
		}
		ratingTerm := 0.5
		if m.AverageRating != nil {
			ratingTerm = *m.AverageRating / 10.0
		}
		out = append(out, models.ScoredMedia{
			Media:       m,
			Score:       0.7*overlap + 0.3*ratingTerm,
			Reason:      models.ReasonSimilarContent,
			Explanation: fmt.Sprintf("Because you were looking at %s", anchor.Title),
		})
	}
	sortScoredMedia(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GenerateRealtime blends collaborative and trending results by the
// configured share, collaborative first.
func (s *GeneratorService) GenerateRealtime(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoredMedia, error) {
	collabCount := int(math.Round(float64(limit) * s.config.Realtime.CollaborativeShare))

	collab, err := s.GenerateCollaborative(ctx, userID, collabCount)
	if err != nil {
		s.logger.WithError(err).Warn("Collaborative generation failed, serving trending only")
		collab = nil
	}

	seen := make(map[uuid.UUID]struct{}, len(collab))
	out := make([]models.ScoredMedia, 0, limit)
	for _, sm := range collab {
		seen[sm.Media.ID] = struct{}{}
		out = append(out, sm)
		if len(out) == collabCount {
			break
		}
	}

	trending, err := s.trending.TrendingMedia(ctx, limit*2)
	if err != nil {
		if len(out) == 0 {
			return nil, err
		}
		return out, nil
	}

	library, err := s.catalog.UserMediaIDs(ctx, userID)
	if err != nil {
		library = map[uuid.UUID]struct{}{}
	}
	for _, sm := range trending {
		if len(out) == limit {
			break
		}
		if _, dup := seen[sm.Media.ID]; dup {
			continue
		}
		if _, owned := library[sm.Media.ID]; owned {
			continue
		}
		sm.Reason = models.ReasonTrendingGlobal
		sm.Explanation = "Trending across ShowSync right now"
		out = append(out, sm)
	}
	return out, nil
}

// GenerateGroupContent scores the catalog for a whole group: the mean of
// per-member scores, excluding anything already in a member's library,
// diversified globally.
func (s *GeneratorService) GenerateGroupContent(ctx context.Context, groupID uuid.UUID, count int) ([]models.ScoredMedia, error) {
	memberIDs, err := s.catalog.GroupMemberIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, nil
	}

	profiles := make([]*models.PreferenceProfile, 0, len(memberIDs))
	excluded := make(map[uuid.UUID]struct{})
	for _, memberID := range memberIDs {
		profile, err := s.profiles.GetOrBuildProfile(ctx, memberID)
		if err != nil {
			s.logger.WithError(err).WithField("user_id", memberID).Warn("Skipping member profile in group generation")
			continue
		}
		profiles = append(profiles, profile)

		interactions, err := s.catalog.UserInteractions(ctx, memberID)
		if err != nil {
			continue
		}
		// Anything already in a member's library is out.
		for _, iw := range interactions {
			excluded[iw.MediaID] = struct{}{}
		}
	}
	if len(profiles) == 0 {
		return nil, nil
	}

	candidates, err := s.catalog.CandidateMedia(ctx, uuid.Nil, s.config.Caps.CandidatePool)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for i := range candidates {
		m := candidates[i]
		if _, skip := excluded[m.ID]; skip {
			continue
		}
		sum := 0.0
		for _, p := range profiles {
			sum += s.scoreMedia(&m, p).total()
		}
		scored = append(scored, scoredCandidate{media: m, score: sum / float64(len(profiles))})
	}

	selected := diversify(scored, count, s.config.Factors.Diversity)
	out := make([]models.ScoredMedia, 0, len(selected))
	for _, c := range selected {
		out = append(out, models.ScoredMedia{
			Media:       c.media,
			Score:       c.score,
			Reason:      models.ReasonGroupActivity,
			Explanation: "A strong match across your group's tastes",
		})
	}
	return out, nil
}

// GenerateGroupSuggestions scores public groups for a user:
// compatibility with members, activity, size fit, and genre overlap.
func (s *GeneratorService) GenerateGroupSuggestions(ctx context.Context, userID uuid.UUID) ([]models.GroupRecommendation, error) {
	profile, err := s.profiles.GetOrBuildProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups, err := s.catalog.PublicGroupsNotJoined(ctx, userID, 50)
	if err != nil {
		return nil, err
	}

	gm := s.config.GroupMatch
	now := time.Now()
	out := make([]models.GroupRecommendation, 0, len(groups))
	for _, g := range groups {
		compat := s.meanMemberCompatibility(ctx, userID, g.ID)

		sizeFit := 1.0 - math.Min(1, math.Abs(float64(g.MemberCount-gm.IdealSize))/float64(gm.IdealSize))

		genreVec := make(map[string]float64, len(g.PrimaryGenres))
		for _, genre := range g.PrimaryGenres {
			genreVec[genre] = 1.0
		}
		genreCompat := algo.CosineSimilarity(genreVec, profile.GenreWeights)

		score := gm.Compatibility*compat +
			gm.Activity*math.Min(1, g.ActivityLevel) +
			gm.SizeFit*sizeFit +
			gm.Genre*genreCompat

		group := g
		out = append(out, models.GroupRecommendation{
			ID:          uuid.New(),
			UserID:      userID,
			GroupID:     g.ID,
			Score:       score,
			Reason:      models.ReasonGroupActivity,
			Explanation: fmt.Sprintf("%s watches what you watch", g.Name),
			CreatedAt:   now,
			ExpiresAt:   now.AddDate(0, 0, s.config.TTL.GroupDays),
			Group:       &group,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].GroupID.String() < out[j].GroupID.String()
	})
	return out, nil
}

// meanMemberCompatibility samples up to ten members and averages pairwise
// compatibility; members without profiles contribute nothing.
func (s *GeneratorService) meanMemberCompatibility(ctx context.Context, userID, groupID uuid.UUID) float64 {
	memberIDs, err := s.catalog.GroupMemberIDs(ctx, groupID)
	if err != nil || len(memberIDs) == 0 {
		return 0
	}
	if len(memberIDs) > 10 {
		memberIDs = memberIDs[:10]
	}

	sum, n := 0.0, 0
	for _, memberID := range memberIDs {
		if memberID == userID {
			continue
		}
		compat, err := s.profiles.Compatibility(ctx, userID, memberID)
		if err != nil {
			continue
		}
		sum += compat
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
