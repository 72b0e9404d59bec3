package model

// Topic is a named editorial or transactional category with its own consent flag.
type Topic string

const (
	TopicBlog     Topic = "blog"
	TopicPress    Topic = "press"
	TopicProduct  Topic = "product"
	TopicSecurity Topic = "security"
	TopicAccount  Topic = "account"
	TopicContact  Topic = "contact"
)

// Topics lists every known topic.
var Topics = []Topic{TopicBlog, TopicPress, TopicProduct, TopicSecurity, TopicAccount, TopicContact}

// EditorialTopics lists the topics that go through recipient resolution.
var EditorialTopics = []Topic{TopicBlog, TopicPress, TopicProduct}

// IsValid reports whether t is a known topic.
func (t Topic) IsValid() bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// IsEditorial reports whether t is a bulk editorial topic (blog, press, product).
// Security and account topics are always transactional and bypass resolution.
func (t Topic) IsEditorial() bool {
	switch t {
	case TopicBlog, TopicPress, TopicProduct:
		return true
	}
	return false
}

func (t Topic) String() string { return string(t) }
