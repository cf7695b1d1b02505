package lens

const accountFields = `
fragment AccountFields on Account {
  address
  username { localName value }
  metadata { name picture }
}`

const postFields = `
fragment PostFields on Post {
  id
  timestamp
  author { ...AccountFields }
  metadata {
    __typename
    ... on TextOnlyMetadata { content }
    ... on ArticleMetadata { content }
    ... on ImageMetadata { content }
    ... on VideoMetadata { content }
  }
  stats { upvotes: reactions(request: { type: UPVOTE }) }
}`

const postReferencesQuery = `
query PostReferences($request: PostReferencesRequest!) {
  postReferences(request: $request) {
    items {
      __typename
      ... on Post { ...PostFields }
      ... on Repost { id }
    }
    pageInfo { prev next }
  }
}` + postFields + accountFields

const postQuery = `
query Post($request: PostRequest!) {
  post(request: $request) {
    __typename
    ... on Post {
      ...PostFields
      operations {
        id
        canComment {
          __typename
          ... on PostOperationValidationFailed {
            reason
            unsatisfiedRules {
              required { rule reason message }
              anyOf { rule reason message }
            }
          }
          ... on PostOperationValidationUnknown {
            extraChecksRequired { __typename id address }
          }
        }
      }
    }
    ... on Repost { id }
  }
}` + postFields + accountFields

const meQuery = `
query Me {
  me {
    loggedInAs {
      account { ...AccountFields }
    }
  }
}` + accountFields

const createPostMutation = `
mutation CreatePost($request: CreatePostRequest!) {
  post(request: $request) {
    __typename
    ... on PostResponse { hash }
    ... on TransactionWillFail { reason }
    ... on SponsoredTransactionRequest { reason }
    ... on SelfFundedTransactionRequest { reason }
  }
}`
