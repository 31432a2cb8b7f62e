package graph

const schemaString = `
type Participant {
  id: ID!
  name: String!
}

type Prize {
  id: ID!
  name: String!
  stock: Int!
  imageRef: String
  price: Float
  isGrandPrize: Boolean!
}

type DoorprizeWinner {
  id: ID!
  participantName: String!
  prizeName: String!
  prizeImageRef: String!
  wonAt: String!
}

type Nominee {
  id: ID!
  name: String!
  company: String!
}

type AwardSlot {
  id: ID!
  rank: Int!
  candidateId: String
  category: String!
  eventLabel: String!
}

type AwardWinner {
  slotId: ID!
  rank: Int!
  category: String!
  eventLabel: String!
  nomineeId: ID!
  name: String!
  company: String!
}

type AwardHistoryEntry {
  id: ID!
  name: String!
  company: String!
  category: String!
  rank: Int!
  eventLabel: String!
  revealedAt: String!
}

type AppConfig {
  doorprizeStart: String!
  awardStart: String!
  doorprizeStatus: String!
  awardStatus: String!
  hasDoorprizePasscode: Boolean!
  hasAwardPasscode: Boolean!
}

type Ticket {
  value: String!
  version: String!
  remainingUsages: Int!
  expiresAt: String!
  createdAt: String!
}

type DrawState {
  phase: String!
  participant: Participant
  prize: Prize
  ticket: Ticket
  lastWinner: DoorprizeWinner
  lastError: String!
}

type RevealGroup {
  eventLabel: String!
  category: String!
  winners: [AwardWinner!]!
}

type RevealState {
  phase: String!
  categoryIndex: Int!
  categoryCount: Int!
  eventLabel: String!
  category: String!
  nominees: [AwardWinner!]!
  cursor: Int!
  countdown: Int!
  revealed: [AwardWinner!]!
  current: AwardWinner
  canReveal: Boolean!
  canAdvance: Boolean!
  celebrations: Int!
  paused: Boolean!
  carouselIndex: Int!
  carousel: [RevealGroup!]!
  unsynced: Int!
  lastError: String!
}

type AccessOutcome {
  decision: String!
  reason: String!
  readOnly: Boolean!
  message: String!
  locked: Boolean!
  remainingSeconds: Int!
  failedAttempts: Int!
  maxAttempts: Int!
}

type ArchivedSession {
  id: ID!
  archivedAt: String!
  participants: [Participant!]!
  doorprizeWinners: [DoorprizeWinner!]!
  awardWinners: [AwardWinner!]!
  awardHistory: [AwardHistoryEntry!]!
}

input PrizeInput {
  id: ID
  name: String!
  stock: Int!
  imageRef: String
  price: Float
  isGrandPrize: Boolean
}

input NomineeInput {
  id: ID
  name: String!
  company: String
}

input AwardSlotInput {
  id: ID
  rank: Int!
  category: String!
  eventLabel: String
  candidateId: String
}

input AppConfigInput {
  doorprizeStart: String
  awardStart: String
  doorprizeStatus: String
  awardStatus: String
  doorprizePasscode: String
  awardPasscode: String
}

input TicketInput {
  value: String!
  version: String!
}

type Query {
  participants: [Participant!]!
  prizes: [Prize!]!
  doorprizeWinners: [DoorprizeWinner!]!
  nominees: [Nominee!]!
  awardSlots: [AwardSlot!]!
  awardWinners: [AwardWinner!]!
  awardHistory: [AwardHistoryEntry!]!
  availableCandidates(slotId: ID!): [Nominee!]!
  appConfig: AppConfig!

  # 展示页状态
  drawState: DrawState!
  revealState: RevealState!

  # 入口校验，设备标识取自Cookie
  requestAccess(target: String!): AccessOutcome!

  # 往届回顾
  archives: [ArchivedSession!]!
  archive(id: ID!): ArchivedSession
}

type Mutation {
  addParticipant(name: String!): ID!
  deleteParticipant(id: ID!): Boolean!
  savePrize(input: PrizeInput!): ID!
  deletePrize(id: ID!): Boolean!
  saveNominee(input: NomineeInput!): ID!
  deleteNominee(id: ID!): Boolean!
  saveAwardSlot(input: AwardSlotInput!): ID!
  deleteAwardSlot(id: ID!): Boolean!
  assignCandidate(slotId: ID!, candidateId: String): Boolean!
  updateAppConfig(input: AppConfigInput!): AppConfig!

  submitPasscode(target: String!, passcode: String!): AccessOutcome!

  # 抽奖
  spin: DrawState!
  confirmDraw(ticket: TicketInput!): DoorprizeWinner!
  retryDraw: DrawState!

  # 颁奖
  initReveal: RevealState!
  selectCategory(index: Int!): RevealState!
  nextNominee: RevealState!
  prevNominee: RevealState!
  startReveal: RevealState!
  advanceCategory: RevealState!
  carouselNext: RevealState!
  carouselPrev: RevealState!
  pauseCarousel: RevealState!
  resumeCarousel: RevealState!

  # 归档当前场次并清空
  archiveSession: ID!
}

schema {
  query: Query
  mutation: Mutation
}
`
