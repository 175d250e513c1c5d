package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

// ResolvedSlot is one concrete question placed into an attempt.
type ResolvedSlot struct {
	SlotNumber      int
	Page            int
	QuestionID      uint
	MaxMark         float64
	RequirePrevious bool

	// Random reports whether the question was drawn from a pool rather than
	// pinned on the assessment. Usage bookkeeping only counts random draws.
	Random bool
}

// ResolvedLayout is the outcome of resolving every slot of an assessment:
// the concrete questions in display order plus the encoded page layout.
type ResolvedLayout struct {
	Slots []ResolvedSlot

	// Layout encodes display order and page breaks as comma-separated slot
	// numbers with 0 marking a page break, e.g. "3,1,0,2,4,0".
	Layout string
}

// SlotResolver turns an assessment's slot definitions into a concrete set of
// questions for one attempt: static slots pass through, random slots draw
// from a shared SelectionSession, and section shuffling plus page breaks are
// applied last.
type SlotResolver struct {
	rng    *rand.Rand
	logger *slog.Logger
}

type ResolverOption func(*SlotResolver)

func WithResolverRand(src rand.Source) ResolverOption {
	return func(r *SlotResolver) {
		r.rng = rand.New(src)
	}
}

func NewSlotResolver(logger *slog.Logger, opts ...ResolverOption) *SlotResolver {
	r := &SlotResolver{
		rng:    rand.New(rand.NewPCG(rand.Uint64(), uint64(time.Now().UnixNano()))),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fills every slot of the assessment. forced pins questions to
// random slots by slot number; a pinned question outside the slot's eligible
// set fails the whole resolution with a ForcedChoiceError. An exhausted pool
// fails it with an InsufficientPoolError.
func (r *SlotResolver) Resolve(
	ctx context.Context,
	assessment *models.Assessment,
	session *SelectionSession,
	forced map[int]uint,
) (*ResolvedLayout, error) {
	slots := sortedSlots(assessment.Slots)
	resolved := make([]ResolvedSlot, 0, len(slots))

	for _, slot := range slots {
		rs := ResolvedSlot{
			SlotNumber:      slot.SlotNumber,
			Page:            slot.Page,
			MaxMark:         slot.MaxMark,
			RequirePrevious: slot.RequirePrevious,
		}
		switch {
		case !slot.IsRandom():
			rs.QuestionID = *slot.QuestionID

		default:
			scope := scopeForSlot(slot)
			if questionID, pinned := forced[slot.SlotNumber]; pinned {
				if err := session.Force(ctx, scope, questionID); err != nil {
					if errors.Is(err, ErrQuestionNotAvailable) {
						return nil, &ForcedChoiceError{SlotNumber: slot.SlotNumber, QuestionID: questionID}
					}
					return nil, err
				}
				rs.QuestionID = questionID
				rs.Random = true
			} else {
				questionID, err := session.Next(ctx, scope)
				if err != nil {
					if errors.Is(err, ErrNoEligibleQuestion) {
						return nil, &InsufficientPoolError{SlotNumber: slot.SlotNumber, Scope: scope}
					}
					return nil, fmt.Errorf("failed to draw question for slot %d: %w", slot.SlotNumber, err)
				}
				rs.QuestionID = questionID
				rs.Random = true
			}
		}
		resolved = append(resolved, rs)
	}

	layout := r.buildLayout(assessment, resolved)
	ordered := reorderByLayout(resolved, layout)
	return &ResolvedLayout{Slots: ordered, Layout: layout}, nil
}

func scopeForSlot(slot models.AssessmentSlot) PoolScope {
	var categoryID uint
	if slot.CategoryID != nil {
		categoryID = *slot.CategoryID
	}
	return PoolScope{
		CategoryID:           categoryID,
		IncludeSubcategories: slot.IncludeSubcategories,
		Tags:                 slot.TagList(),
	}
}

func sortedSlots(slots []models.AssessmentSlot) []models.AssessmentSlot {
	out := append([]models.AssessmentSlot(nil), slots...)
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out
}

// buildLayout computes the display layout string. Shuffled sections get
// their slot order randomized and page breaks re-inserted every
// QuestionsPerPage; unshuffled sections keep authored order and break where
// the declared page changes. Every section ends on a page break.
func (r *SlotResolver) buildLayout(assessment *models.Assessment, resolved []ResolvedSlot) string {
	sections := sectionRanges(assessment, resolved)
	perPage := assessment.QuestionsPerPage

	var tokens []string
	for _, sec := range sections {
		slots := resolved[sec.start:sec.end]
		order := make([]int, len(slots))
		for i := range slots {
			order[i] = i
		}
		if sec.shuffle {
			r.rng.Shuffle(len(order), func(i, j int) {
				order[i], order[j] = order[j], order[i]
			})
		}

		onPage := 0
		for idx, pos := range order {
			slot := slots[pos]
			if idx > 0 {
				breakHere := false
				if sec.shuffle {
					breakHere = perPage > 0 && onPage >= perPage
				} else {
					breakHere = slot.Page != slots[order[idx-1]].Page
				}
				if breakHere {
					tokens = append(tokens, "0")
					onPage = 0
				}
			}
			tokens = append(tokens, strconv.Itoa(slot.SlotNumber))
			onPage++
		}
		if len(slots) > 0 {
			tokens = append(tokens, "0")
		}
	}
	return strings.Join(tokens, ",")
}

type sectionRange struct {
	start, end int
	shuffle    bool
}

// sectionRanges partitions resolved (sorted by slot number) into contiguous
// section spans. Without declared sections the whole attempt is one
// unshuffled section.
func sectionRanges(assessment *models.Assessment, resolved []ResolvedSlot) []sectionRange {
	if len(assessment.Sections) == 0 {
		return []sectionRange{{start: 0, end: len(resolved)}}
	}

	sections := append([]models.AssessmentSection(nil), assessment.Sections...)
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].FirstSlotNumber < sections[j].FirstSlotNumber
	})

	var ranges []sectionRange
	for i, sec := range sections {
		start := indexOfSlot(resolved, sec.FirstSlotNumber)
		end := len(resolved)
		if i+1 < len(sections) {
			end = indexOfSlot(resolved, sections[i+1].FirstSlotNumber)
		}
		if start < 0 || start >= end {
			continue
		}
		ranges = append(ranges, sectionRange{start: start, end: end, shuffle: sec.Shuffle})
	}
	if len(ranges) == 0 {
		return []sectionRange{{start: 0, end: len(resolved)}}
	}
	return ranges
}

func indexOfSlot(resolved []ResolvedSlot, slotNumber int) int {
	for i, rs := range resolved {
		if rs.SlotNumber >= slotNumber {
			return i
		}
	}
	return -1
}

// reorderByLayout returns the resolved slots in display order with final
// page numbers assigned from the layout.
func reorderByLayout(resolved []ResolvedSlot, layout string) []ResolvedSlot {
	byNumber := make(map[int]ResolvedSlot, len(resolved))
	for _, rs := range resolved {
		byNumber[rs.SlotNumber] = rs
	}

	out := make([]ResolvedSlot, 0, len(resolved))
	page := 1
	onPage := 0
	for _, token := range strings.Split(layout, ",") {
		if token == "" {
			continue
		}
		n, err := strconv.Atoi(token)
		if err != nil {
			continue
		}
		if n == 0 {
			if onPage > 0 {
				page++
				onPage = 0
			}
			continue
		}
		rs := byNumber[n]
		rs.Page = page
		out = append(out, rs)
		onPage++
	}
	return out
}
