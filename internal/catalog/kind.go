package catalog

// Kind is the module kind of a stage. It determines which artifact family a
// stage produces or reviews, and which versions count for work selection.
type Kind string

const (
	KindTitle        Kind = "Title"
	KindScript       Kind = "Script"
	KindReviewTitle  Kind = "Review.Title"
	KindReviewScript Kind = "Review.Script"
	KindStory        Kind = "Story"
	KindDecision     Kind = "Story.Decision"
)

// VersionSource names the artifact versions that feed the work-version bucket.
type VersionSource int

const (
	// VersionsBoth takes the max of title and content versions.
	VersionsBoth VersionSource = iota
	// VersionsContent takes the max content version.
	VersionsContent
	// VersionsTitle takes the max title version.
	VersionsTitle
)

// WorkVersionSource maps a stage kind to the versions counted by the Work
// Selector. Unknown kinds fall back to VersionsBoth, same as Story kinds.
func (k Kind) WorkVersionSource() VersionSource {
	switch k {
	case KindScript, KindReviewScript:
		return VersionsContent
	case KindTitle, KindReviewTitle:
		return VersionsTitle
	default:
		return VersionsBoth
	}
}
